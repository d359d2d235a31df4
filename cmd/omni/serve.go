// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/observability"
	"github.com/kadirpekel/omni/pkg/server"
)

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Host    string `help:"Host to bind (overrides config)."`
	Port    int    `help:"Port to listen on (overrides config)."`
	Observe bool   `help:"Enable stdout trace export."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	cleanup, err := initLogger(cli, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down")
		cancel()
	}()

	if c.Observe {
		shutdown, err := observability.InitTracer(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("Trace shutdown failed", "error", err)
			}
		}()
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	ts, err := buildToolset(cfg)
	if err != nil {
		return err
	}
	defer ts.cleanup()

	checkpoints, err := buildCheckpointStore(cfg)
	if err != nil {
		return err
	}
	sessions, err := buildSessionManager(cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	factory := func(threadID string) (*agent.Agent, error) {
		return agent.New(agentConfig(cfg, client, ts, checkpoints, threadID))
	}

	srv, err := server.New(server.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		SessionTTL: time.Duration(cfg.Server.SessionTTL) * time.Second,
	}, factory, sessions, checkpoints)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
