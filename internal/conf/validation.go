// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Check if the configuration is valid. Fails fast before any agent is
// started (spec §7 InvalidConfig).
func (c *Config) Validate() error {
	validServers := []string{ServerGlobalManager, ServerLocalManager, ServerLocalCollector, ServerDBCleaner}
	for _, s := range c.AgentConfig.Server {
		if !slices.Contains(validServers, s) {
			return fmt.Errorf("unknown server %q, expected one of %v", s, validServers)
		}
	}
	if len(c.AgentConfig.Server) == 0 {
		return errors.New("agent.server must name at least one of global-manager, local-manager, local-collector, db-cleaner")
	}

	needsCluster := slices.Contains(c.AgentConfig.Server, ServerGlobalManager)
	if needsCluster && len(c.AgentConfig.ComputeHosts) == 0 {
		return errors.New("agent.computeHosts must be non-empty when global-manager is enabled")
	}

	for name, v := range map[string]int{
		"agent.dataCollectorIntervalSeconds": c.AgentConfig.DataCollectorIntervalSeconds,
		"agent.dataCollectorDataLength":      c.AgentConfig.DataCollectorDataLength,
		"agent.localManagerIntervalSeconds":  c.AgentConfig.LocalManagerIntervalSeconds,
		"agent.dbCleanerIntervalSeconds":     c.AgentConfig.DBCleanerIntervalSeconds,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.AgentConfig.HostCPUUsableByVMs <= 0 || c.AgentConfig.HostCPUUsableByVMs > 1 {
		return fmt.Errorf("agent.hostCpuUsableByVms must be in (0, 1], got %v", c.AgentConfig.HostCPUUsableByVMs)
	}
	if c.AgentConfig.HostCPUOverloadThreshold <= 0 || c.AgentConfig.HostCPUOverloadThreshold > 1 {
		return fmt.Errorf("agent.hostCpuOverloadThreshold must be in (0, 1], got %v", c.AgentConfig.HostCPUOverloadThreshold)
	}
	if c.AgentConfig.NetworkMigrationBandwidthMBps <= 0 {
		return errors.New("agent.networkMigrationBandwidthMbps must be positive")
	}

	// Keystone is only required when the global manager talks to Nova.
	if needsCluster {
		if c.KeystoneConfig.URL == "" {
			return errors.New("keystone.url is required when global-manager is enabled")
		}
		if !strings.Contains(c.KeystoneConfig.URL, "/v3") {
			return fmt.Errorf("expected v3 Keystone URL, but got %s", c.KeystoneConfig.URL)
		}
		if strings.HasSuffix(c.KeystoneConfig.URL, "/") {
			return fmt.Errorf("openstack url %s should not end with a slash", c.KeystoneConfig.URL)
		}
	}

	if c.MQTTConfig.URL == "" {
		return errors.New("mqtt.url is required")
	}
	if c.MQTTConfig.TopicPrefix == "" {
		c.MQTTConfig.TopicPrefix = "terracotta"
	}

	return nil
}
