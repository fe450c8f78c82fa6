// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"database/sql"
	"testing"

	"github.com/go-gorp/gorp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openstack-archive/terracotta/internal/metricstore"
)

// SqliteTestDB wraps a metricstore.DB backed by an on-disk sqlite file, so
// store tests run without a real Postgres instance.
type SqliteTestDB struct {
	*metricstore.DB
}

func NewSqliteTestDB(t *testing.T) SqliteTestDB {
	t.Helper()
	tmpDir := t.TempDir()
	sqlDB, err := sql.Open("sqlite3", tmpDir+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	d := SqliteTestDB{DB: &metricstore.DB{DbMap: &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}}}
	for _, table := range metricstore.AllTables() {
		d.DB.AddTable(table)
	}
	if err := d.DB.DbMap.CreateTablesIfNotExists(); err != nil {
		t.Fatal(err)
	}
	return d
}

// TableExists overrides metricstore.DB's Postgres-flavored check, because
// sqlite stores table metadata differently.
func (d *SqliteTestDB) TableExists(table metricstore.Table) bool {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name = ?"
	var name string
	err := d.DbMap.SelectOne(&name, query, table.TableName())
	return err == nil
}

func (d *SqliteTestDB) Close() error {
	return d.DB.Close()
}
