// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// sagaflow is the saga orchestration service. It coordinates multi-service
// business transactions through commands and reply events, compensating
// completed steps in reverse order when a later step fails.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowmech/sagaflow/internal/orchestrator"
	"github.com/flowmech/sagaflow/internal/orchestrator/config"
	"github.com/flowmech/sagaflow/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "sagaflow",
		Short: "Saga orchestration service",
		Long: "sagaflow coordinates distributed business transactions as sagas:\n" +
			"ordered steps executed by collaborating services over a message\n" +
			"broker, with automatic backward compensation on failure.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to sagaflow.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.InitLoggerWithLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.GetLogger().Sync() }()

	svc, err := orchestrator.NewService(cfg)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
