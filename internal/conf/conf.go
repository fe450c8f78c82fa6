// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"encoding/json"
	"io"
	"os"
)

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	LevelStr string `json:"level"`
	// The log format to use (json, text).
	Format string `json:"format"`
}

type DBReconnectConfig struct {
	// The interval between liveness pings to the database.
	LivenessPingIntervalSeconds int `json:"livenessPingIntervalSeconds"`
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`
	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `json:"maxRetries"`
}

// Database configuration for the central metric store.
type DBConfig struct {
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Database  string            `json:"database"`
	User      string            `json:"user"`
	Password  string            `json:"password"`
	Reconnect DBReconnectConfig `json:"reconnect"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `json:"labels"`
	// The port to expose the metrics on.
	Port int `json:"port"`
}

type MQTTReconnectConfig struct {
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`
	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `json:"maxRetries"`
}

// Configuration for the mqtt client used as the RPC transport between agents.
type MQTTConfig struct {
	// The URL of the MQTT broker to use for mqtt.
	URL string `json:"url"`
	// Credentials for the MQTT broker.
	Username  string              `json:"username"`
	Password  string              `json:"password"`
	Reconnect MQTTReconnectConfig `json:"reconnect"`
	// Topic prefix the global manager listens on, and that local managers
	// publish underload/overload signals under.
	TopicPrefix string `json:"topicPrefix"`
}

// Configuration for the liveness/metrics http api.
type APIConfig struct {
	// Not read by the entrypoint: /up and /metrics are served on
	// monitoring.port.
	Port int `json:"port"`
}

// Configuration for the keystone authentication against the hypervisor
// control plane's cluster-level services (Nova).
type KeystoneConfig struct {
	// The URL of the keystone service.
	URL string `json:"url"`
	// Availability of the keystone service, such as "public", "internal", or "admin".
	Availability string `json:"availability"`
	// The OpenStack username (OS_USERNAME in openstack cli).
	OSUsername string `json:"username"`
	// The OpenStack password (OS_PASSWORD in openstack cli).
	OSPassword string `json:"password"`
	// The OpenStack project name (OS_PROJECT_NAME in openstack cli).
	OSProjectName string `json:"projectName"`
	// The OpenStack user domain name (OS_USER_DOMAIN_NAME in openstack cli).
	OSUserDomainName string `json:"userDomainName"`
	// The OpenStack project domain name (OS_PROJECT_DOMAIN_NAME in openstack cli).
	OSProjectDomainName string `json:"projectDomainName"`
}

// The agent kinds the supervisor can launch (spec §4.6, plus the db
// cleaner retention sweep from spec §3/§9).
const (
	ServerGlobalManager  = "global-manager"
	ServerLocalManager   = "local-manager"
	ServerLocalCollector = "local-collector"
	ServerDBCleaner      = "db-cleaner"
)

// AgentConfig carries the flat namespace of agent-tuning options. The
// original source scattered these across several CONF groups with some
// call sites referencing ungrouped fields; this config resolves that
// ambiguity onto a single flat section (see DESIGN.md).
type AgentConfig struct {
	// Which agents to start. Defaults to all four when the key is omitted;
	// an explicitly empty list is rejected by Validate.
	Server []string `json:"server"`

	DataCollectorIntervalSeconds   int `json:"dataCollectorIntervalSeconds"`
	DataCollectorDataLength        int `json:"dataCollectorDataLength"`
	LocalManagerIntervalSeconds    int `json:"localManagerIntervalSeconds"`
	DBCleanerIntervalSeconds       int `json:"dbCleanerIntervalSeconds"`

	// Directory holding the collector's on-disk sliding history.
	LocalDataDirectory string `json:"localDataDirectory"`

	// Fraction of physical CPU MHz made available to VMs on a host.
	HostCPUUsableByVMs float64 `json:"hostCpuUsableByVms"`
	// Fraction of total host MHz above which a host is logged as overloaded
	// (§4.4 overload-edge logging; independent from the pluggable detector).
	HostCPUOverloadThreshold float64 `json:"hostCpuOverloadThreshold"`

	// MB/s assumed for live migration duration estimates.
	NetworkMigrationBandwidthMBps float64 `json:"networkMigrationBandwidthMbps"`
	// Whether migrations use block migration (no shared storage).
	BlockMigration bool `json:"blockMigration"`

	// The fixed set of hypervisor hosts this cluster manages.
	ComputeHosts []string `json:"computeHosts"`
	// Admin credentials used to log in to compute hosts over SSH for the
	// power-off sleep command.
	ComputeUser     string `json:"computeUser"`
	ComputePassword string `json:"computePassword"`

	// Shared-storage directory holding VM instance directories, repaired
	// before each live migration (spec §4.5.3).
	VMInstanceDirectory string `json:"vmInstanceDirectory"`
}

// PowerConfig carries the options for host power transitions (spec §4.5.4).
type PowerConfig struct {
	// SSH command invoked to suspend a host, default "pm-suspend".
	SleepCommand string `json:"sleepCommand"`
	// Network interface used to resolve MACs and send WoL frames.
	EtherWakeInterface string `json:"etherWakeInterface"`
	// Path to the ether-wake/etherwake binary. Resolved at startup if empty.
	EtherWakeBinary string `json:"etherWakeBinary"`
	// SSH port used for the sleep command, default 22.
	SSHPort int `json:"sshPort"`
}

// AlgorithmConfig names the pluggable algorithm factories and their
// parameters, replacing the source's dynamic-dispatch-by-string with a
// registry lookup (see internal/algorithms and DESIGN.md §9).
type AlgorithmConfig struct {
	UnderloadDetectionFactory    string  `json:"underloadDetectionFactory"`
	UnderloadDetectionParameters RawOpts `json:"underloadDetectionParameters"`

	OverloadDetectionFactory    string  `json:"overloadDetectionFactory"`
	OverloadDetectionParameters RawOpts `json:"overloadDetectionParameters"`

	VMSelectionFactory    string  `json:"vmSelectionFactory"`
	VMSelectionParameters RawOpts `json:"vmSelectionParameters"`

	VMPlacementFactory    string  `json:"vmPlacementFactory"`
	VMPlacementParameters RawOpts `json:"vmPlacementParameters"`
}

// Configuration for the terracotta service.
type Config struct {
	LoggingConfig    `json:"logging"`
	DBConfig         `json:"db"`
	MonitoringConfig `json:"monitoring"`
	MQTTConfig       `json:"mqtt"`
	APIConfig        `json:"api"`
	KeystoneConfig   `json:"keystone"`
	AgentConfig      `json:"agent"`
	PowerConfig      `json:"power"`
	AlgorithmConfig  `json:"algorithm"`
}

// Default values applied before unmarshalling user-provided config, so
// that a zero-valued json field still yields the documented default
// (spec §6 "Configuration (enumerated)").
func defaultConfig() Config {
	return Config{
		LoggingConfig: LoggingConfig{LevelStr: "info", Format: "text"},
		AgentConfig: AgentConfig{
			Server:                         []string{ServerGlobalManager, ServerLocalManager, ServerLocalCollector, ServerDBCleaner},
			DataCollectorIntervalSeconds:   300,
			DataCollectorDataLength:        100,
			LocalManagerIntervalSeconds:    300,
			DBCleanerIntervalSeconds:       7200,
			LocalDataDirectory:             "/var/lib/terracotta",
			HostCPUUsableByVMs:             1.0,
			HostCPUOverloadThreshold:       0.8,
			NetworkMigrationBandwidthMBps:  10,
			BlockMigration:                 true,
			VMInstanceDirectory:            "/var/lib/nova/instances",
		},
		PowerConfig: PowerConfig{
			SleepCommand:       "pm-suspend",
			EtherWakeInterface: "eth0",
			SSHPort:            22,
		},
	}
}

// Load the configuration from the given json file path.
func LoadConfigOrDie(path string) *Config {
	file, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		panic(err)
	}
	c := defaultConfig()
	if err := json.Unmarshal(bytes, &c); err != nil {
		panic(err)
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return &c
}
