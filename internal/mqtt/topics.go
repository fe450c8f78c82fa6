// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"encoding/json"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic layout under the configured prefix. Local managers publish, the
// global manager subscribes once at startup (spec §6 "Wire protocol").
func underloadTopic(prefix string) string { return prefix + "/underload" }
func overloadTopic(prefix string) string  { return prefix + "/overload" }

// UnderloadSignal is the payload of the underload(host) RPC.
type UnderloadSignal struct {
	Host string `json:"host"`
}

// OverloadSignal is the payload of the overload(host, vm_uuids) RPC.
type OverloadSignal struct {
	Host     string   `json:"host"`
	VmUUIDs  []string `json:"vm_uuids"`
}

// PublishUnderload sends a fire-and-forget underload signal for a host. Both
// RPC methods are best-effort from the caller's perspective (spec §6):
// errors are logged by Publish and never propagate back.
func PublishUnderload(c Client, topicPrefix, host string) {
	c.Publish(underloadTopic(topicPrefix), UnderloadSignal{Host: host})
}

// PublishOverload sends a fire-and-forget overload signal naming the guests
// eligible for eviction.
func PublishOverload(c Client, topicPrefix, host string, vmUUIDs []string) {
	c.Publish(overloadTopic(topicPrefix), OverloadSignal{Host: host, VmUUIDs: vmUUIDs})
}

// SubscribeUnderload registers the global manager's underload RPC handler.
func SubscribeUnderload(c Client, topicPrefix string, handler func(UnderloadSignal)) error {
	return c.Subscribe(underloadTopic(topicPrefix), func(_ mqtt.Client, msg mqtt.Message) {
		var signal UnderloadSignal
		if err := json.Unmarshal(msg.Payload(), &signal); err != nil {
			slog.Error("mqtt: failed to decode underload signal", "error", err)
			return
		}
		handler(signal)
	})
}

// SubscribeOverload registers the global manager's overload RPC handler.
func SubscribeOverload(c Client, topicPrefix string, handler func(OverloadSignal)) error {
	return c.Subscribe(overloadTopic(topicPrefix), func(_ mqtt.Client, msg mqtt.Message) {
		var signal OverloadSignal
		if err := json.Unmarshal(msg.Payload(), &signal); err != nil {
			slog.Error("mqtt: failed to decode overload signal", "error", err)
			return
		}
		handler(signal)
	})
}
