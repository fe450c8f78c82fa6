// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package metricstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	"github.com/sapcc/go-bits/jobloop"

	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/monitoring"
)

// Table is implemented by every model persisted through the metric store.
type Table interface {
	TableName() string
	Indexes() map[string][]string
}

// DB is a thin gorp wrapper providing the typed table-mapper operations
// the rest of terracotta depends on.
type DB struct {
	DbMap *gorp.DbMap
}

// Connect to Postgres, retrying until reachable or the attempt budget is
// exhausted (spec §7 "Fatal at startup: cannot reach DB for host registration").
func NewPostgresDB(ctx context.Context, c conf.DBConfig, registry *monitoring.Registry, monitor Monitor) *DB {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database,
	)
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		panic(err)
	}
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
	d := &DB{DbMap: dbMap}

	slog.Info("metricstore: waiting for database to be ready...")
	maxRetries := c.Reconnect.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	retryInterval := time.Duration(c.Reconnect.RetryIntervalSeconds) * time.Second
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	for attempt := 1; ; attempt++ {
		if monitor.connectionAttempts != nil {
			monitor.connectionAttempts.Inc()
		}
		if err := sqlDB.PingContext(ctx); err == nil {
			break
		} else if attempt >= maxRetries {
			panic(fmt.Errorf("metricstore: database not reachable after %d attempts: %w", attempt, err))
		} else {
			slog.Info("metricstore: database not ready yet, retrying", "attempt", attempt)
			time.Sleep(jobloop.DefaultJitter(retryInterval))
		}
	}
	slog.Info("metricstore: database is ready")
	return d
}

// CheckLivenessPeriodically pings the database on an interval, panicking
// after the configured number of consecutive failures (fatal per spec §7;
// a dead metric store makes every agent's tick loop meaningless).
func (d *DB) CheckLivenessPeriodically(ctx context.Context, c conf.DBReconnectConfig) {
	interval := time.Duration(c.LivenessPingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	failures := 0
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := d.DbMap.Db.PingContext(ctx); err != nil {
			failures++
			slog.Error("metricstore: liveness ping failed", "error", err, "failures", failures)
			if failures >= maxRetries {
				panic(fmt.Errorf("metricstore: database unreachable after %d consecutive liveness failures: %w", failures, err))
			}
		} else {
			failures = 0
		}
		time.Sleep(jobloop.DefaultJitter(interval))
	}
}

func (d *DB) Close() error {
	return d.DbMap.Db.Close()
}

// AddTable registers a model's gorp table mapping; the primary key is the
// field tagged "primarykey" in the model's db tags.
func (d *DB) AddTable(table Table) *gorp.TableMap {
	return d.DbMap.AddTableWithName(table, table.TableName())
}

// CreateTable creates every registered table that is absent, not only the
// given one. The indexes a model declares in Indexes() are not created.
func (d *DB) CreateTable(tableMap *gorp.TableMap) error {
	if err := d.DbMap.CreateTablesIfNotExists(); err != nil {
		return err
	}
	return nil
}

// TableExists reports whether the given model's table already exists.
func (d *DB) TableExists(table Table) bool {
	query := "SELECT table_name FROM information_schema.tables WHERE table_name = $1"
	var name string
	err := d.DbMap.SelectOne(&name, query, table.TableName())
	return err == nil
}

func (d *DB) Insert(list ...any) error {
	return d.DbMap.Insert(list...)
}

func (d *DB) Select(holder any, query string, args ...any) ([]any, error) {
	return d.DbMap.Select(holder, query, args...)
}

func (d *DB) SelectOne(holder any, query string, args ...any) error {
	return d.DbMap.SelectOne(holder, query, args...)
}

func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	return d.DbMap.Exec(query, args...)
}

// ReplaceAll deletes any existing rows sharing a primary key with one of
// the given records, then inserts the records, in one transaction, for
// "latest wins" style bulk upserts.
func ReplaceAll[T Table](d *DB, records ...T) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.DbMap.Begin()
	if err != nil {
		return err
	}
	for i := range records {
		if _, err := tx.Delete(&records[i]); err != nil {
			// Row may not exist yet; that's fine, proceed to insert.
			_ = err
		}
		if err := tx.Insert(&records[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// BulkInsert inserts many records in a single transaction, used for
// append-mostly series such as insert_vm_cpu_mhz.
func BulkInsert[T any](target *DB, records ...T) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := target.DbMap.Begin()
	if err != nil {
		return err
	}
	for i := range records {
		if err := tx.Insert(&records[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
