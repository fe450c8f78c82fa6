// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openstack-archive/terracotta/internal/conf"
)

// These tests exercise the client against its own bookkeeping without a
// live broker; broker round-trips are integration-level and not run here.

func TestNewClientInitializesSubscriptions(t *testing.T) {
	c := NewClient(conf.MQTTConfig{URL: "tcp://localhost:1883"}, Monitor{})
	impl, ok := c.(*client)
	if !ok {
		t.Fatal("expected *client")
	}
	if impl.subscriptions == nil {
		t.Fatal("expected subscriptions map to be initialized")
	}
}

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	c := client{conf: conf.MQTTConfig{URL: "tcp://localhost:1883"}, lock: &sync.Mutex{}}
	c.Disconnect() // must not panic when never connected
}

func TestResubscribeAllTopicsEmpty(t *testing.T) {
	c := client{
		conf:          conf.MQTTConfig{URL: "tcp://localhost:1883"},
		lock:          &sync.Mutex{},
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
	if err := c.resubscribeAllTopics(); err != nil {
		t.Fatalf("expected no error for empty subscriptions, got %v", err)
	}
}
