// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package supervisor starts the configured subset of the agent kinds
// sharing one process and one MQTT transport, and tears all of them down
// together the moment any one of them exits (spec §4.6).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openstack-archive/terracotta/internal/conf"
)

// Agent is anything the supervisor can run to completion or cancellation.
type Agent struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs a named set of agents and stops all of them as soon as
// one returns, whether with an error or cleanly.
type Supervisor struct {
	agents []Agent
}

// New builds a Supervisor restricted to the names in server (spec §4.6:
// `global-manager`, `local-manager`, `local-collector`, `db-cleaner`). An
// agent whose name isn't in server is never started; the caller in
// cmd/terracotta constructs all four and relies on this filter.
func New(server []string, all []Agent) (*Supervisor, error) {
	wanted := make(map[string]bool, len(server))
	for _, name := range server {
		wanted[name] = true
	}
	known := map[string]bool{
		conf.ServerGlobalManager:  true,
		conf.ServerLocalManager:   true,
		conf.ServerLocalCollector: true,
		conf.ServerDBCleaner:      true,
	}
	for name := range wanted {
		if !known[name] {
			return nil, fmt.Errorf("supervisor: unknown agent %q", name)
		}
	}

	var selected []Agent
	for _, a := range all {
		if wanted[a.Name] {
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("supervisor: no agents selected from %v", server)
	}
	return &Supervisor{agents: selected}, nil
}

// Run starts every selected agent and blocks until ctx is cancelled or
// one of them returns, at which point the others are cancelled too.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)
	for _, agent := range s.agents {
		agent := agent
		group.Go(func() error {
			// A clean return stops the others as well; errgroup alone only
			// cancels gctx on a non-nil error.
			defer cancel()
			slog.Info("supervisor: starting agent", "agent", agent.Name)
			err := agent.Run(gctx)
			if err != nil {
				slog.Error("supervisor: agent exited with error", "agent", agent.Name, "error", err)
			} else {
				slog.Info("supervisor: agent exited", "agent", agent.Name)
			}
			return err
		})
	}
	return group.Wait()
}
