// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/openstack-archive/terracotta/internal/collector"
	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/dbcleaner"
	"github.com/openstack-archive/terracotta/internal/globalmanager"
	"github.com/openstack-archive/terracotta/internal/hypervisor"
	"github.com/openstack-archive/terracotta/internal/localmanager"
	"github.com/openstack-archive/terracotta/internal/metricstore"
	"github.com/openstack-archive/terracotta/internal/monitoring"
	"github.com/openstack-archive/terracotta/internal/mqtt"
	"github.com/openstack-archive/terracotta/internal/openstack/keystone"
	"github.com/openstack-archive/terracotta/internal/openstack/nova"
	"github.com/openstack-archive/terracotta/internal/power"
	"github.com/openstack-archive/terracotta/internal/supervisor"
)

var (
	configPath string
	serverList []string
)

func main() {
	bininfo.HandleVersionArgument()

	rootCmd := &cobra.Command{
		Use:   "terracotta",
		Short: "Dynamic workload consolidation for virtualized compute clusters",
		RunE:  run,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the terracotta json config file")
	rootCmd.PersistentFlags().StringSliceVar(&serverList, "server", nil,
		"agents to run (global-manager, local-manager, local-collector, db-cleaner); defaults to the config file's agent.server")
	if err := rootCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	if err := rootCmd.Execute(); err != nil {
		slog.Error("terracotta: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	config := conf.LoadConfigOrDie(configPath)
	config.LoggingConfig.SetDefaultLogger()

	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(slog.Debug))
	if err != nil {
		return fmt.Errorf("terracotta: setting GOMAXPROCS: %w", err)
	}
	defer undoMaxprocs()

	server := serverList
	if len(server) == 0 {
		server = config.AgentConfig.Server
	}

	// SIGINT gets 10s to let in-flight RPCs and ticks settle before the
	// context is cancelled out from under every agent at once.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	registry := monitoring.NewRegistry(config.MonitoringConfig)
	go runMetricsServer(ctx, registry, config.MonitoringConfig)

	dbMonitor := metricstore.NewDBMonitor(registry)
	db := metricstore.NewPostgresDB(ctx, config.DBConfig, registry, dbMonitor)
	defer db.Close()
	var lastTableMap *gorp.TableMap
	for _, table := range metricstore.AllTables() {
		lastTableMap = db.AddTable(table)
	}
	if lastTableMap != nil {
		if err := db.CreateTable(lastTableMap); err != nil {
			return fmt.Errorf("terracotta: creating tables: %w", err)
		}
	}
	go db.CheckLivenessPeriodically(ctx, config.DBConfig.Reconnect)
	store := metricstore.NewStore(db, dbMonitor)

	mqttMonitor := mqtt.NewMQTTMonitor(registry)
	mqttClient := mqtt.NewClient(config.MQTTConfig, mqttMonitor)

	keystoneAPI := keystone.NewKeystoneAPI(config.KeystoneConfig)
	novaAPI := nova.NewNovaAPI(keystoneAPI)
	if err := novaAPI.Init(ctx); err != nil {
		return fmt.Errorf("terracotta: authenticating against keystone: %w", err)
	}

	agents, err := buildAgents(config, mqttClient, store, novaAPI, registry)
	if err != nil {
		return err
	}

	sv, err := supervisor.New(server, agents)
	if err != nil {
		return err
	}

	if err := sv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// buildAgents wires every agent kind the supervisor might be asked to run.
// Constructing all four regardless of `server` keeps the wiring in one
// place; the supervisor filters by name before starting anything.
func buildAgents(config *conf.Config, mqttClient mqtt.Client, store *metricstore.Store, novaAPI nova.NovaAPI, registry *monitoring.Registry) ([]supervisor.Agent, error) {
	var agents []supervisor.Agent

	globalHV := hypervisor.NewNovaHypervisorCluster(novaAPI, config.AgentConfig.BlockMigration)
	powerController := power.NewSSHWoLController(config.PowerConfig, config.AgentConfig.ComputeUser, config.AgentConfig.ComputePassword)
	gm := globalmanager.NewGlobalManager(
		globalHV, store, powerController, globalmanager.NewExecChowner(),
		mqttClient, config.MQTTConfig.TopicPrefix,
		config.AgentConfig, config.AlgorithmConfig,
		globalmanager.NewMonitor(registry),
	)
	agents = append(agents, supervisor.Agent{Name: conf.ServerGlobalManager, Run: gm.Run})

	localHV := hypervisor.NewLibvirtHypervisor()
	lm := localmanager.NewLocalManager(
		localHV, mqttClient, config.MQTTConfig.TopicPrefix,
		config.AgentConfig, config.AlgorithmConfig,
		localmanager.NewMonitor(registry),
	)
	agents = append(agents, supervisor.Agent{Name: conf.ServerLocalManager, Run: lm.Run})

	reader, err := collector.NewHostCPUReader()
	if err != nil {
		return nil, fmt.Errorf("terracotta: opening host cpu reader: %w", err)
	}
	col := collector.NewCollector(
		hypervisor.NewLibvirtHypervisor(), store,
		config.AgentConfig, collector.NewMonitor(registry), reader,
	)
	agents = append(agents, supervisor.Agent{Name: conf.ServerLocalCollector, Run: col.Run})

	cleaner := dbcleaner.NewDBCleaner(store, config.AgentConfig, dbcleaner.NewMonitor(registry))
	agents = append(agents, supervisor.Agent{Name: conf.ServerDBCleaner, Run: cleaner.Run})

	return agents, nil
}

func runMetricsServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	slog.Info("terracotta: metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		slog.Error("terracotta: metrics server exited", "error", err)
	}
}
