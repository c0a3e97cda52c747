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

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/internal/orchestrator/config"
	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/engine"
	"github.com/flowmech/sagaflow/pkg/saga/flows"
	"github.com/flowmech/sagaflow/pkg/saga/messaging"
	"github.com/flowmech/sagaflow/pkg/saga/state"
	"github.com/flowmech/sagaflow/pkg/saga/state/storage"
)

// Service assembles the store, broker, engine, reply consumer, and HTTP
// server from configuration and runs them as one unit.
type Service struct {
	config   *config.OrchestratorConfig
	store    state.Store
	broker   messaging.Broker
	engine   *engine.Engine
	consumer *messaging.ReplyConsumer
	server   *Server
	logger   *zap.Logger
}

// NewService wires every component. Nothing starts running until Run.
func NewService(cfg *config.OrchestratorConfig) (*Service, error) {
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	broker, err := buildBroker(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := saga.NewRegistry()
	if err := flows.RegisterAll(registry); err != nil {
		store.Close()
		broker.Close()
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())

	eng, err := engine.New(engine.Options{
		Registry:  registry,
		Store:     store,
		Publisher: messaging.NewCommandPublisher(broker),
		Metrics:   engine.NewPrometheusMetrics(promRegistry),
		Config:    cfg.Engine,
	})
	if err != nil {
		store.Close()
		broker.Close()
		return nil, err
	}

	consumer, err := messaging.NewReplyConsumer(broker, registry, eng, cfg.Consumer)
	if err != nil {
		store.Close()
		broker.Close()
		return nil, err
	}

	return &Service{
		config:   cfg,
		store:    store,
		broker:   broker,
		engine:   eng,
		consumer: consumer,
		server:   NewServer(eng, registry, promRegistry, cfg.Server.Port),
		logger:   logger.GetLogger(),
	}, nil
}

// Run starts the background loops, the reply consumer, and the HTTP server,
// then blocks until SIGINT/SIGTERM or ctx cancellation and shuts everything
// down in reverse order.
func (s *Service) Run(ctx context.Context) error {
	s.engine.Start()
	if err := s.consumer.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("context cancelled; shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := s.consumer.Close(); err != nil {
		s.logger.Warn("consumer shutdown failed", zap.Error(err))
	}
	if err := s.broker.Close(); err != nil {
		s.logger.Warn("broker shutdown failed", zap.Error(err))
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("engine shutdown failed", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store shutdown failed", zap.Error(err))
	}

	s.logger.Info("orchestrator stopped")
	return nil
}

func buildStore(cfg *config.OrchestratorConfig) (state.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	case config.StoragePostgres:
		return storage.NewPostgresStore(&cfg.Storage.Postgres)
	case config.StorageRedis:
		return storage.NewRedisStore(&cfg.Storage.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildBroker(cfg *config.OrchestratorConfig) (messaging.Broker, error) {
	switch cfg.Broker.Backend {
	case config.BrokerMemory:
		return messaging.NewMemoryBroker(), nil
	case config.BrokerRabbitMQ:
		return messaging.NewRabbitMQBroker(cfg.Broker.RabbitMQ)
	case config.BrokerKafka:
		return messaging.NewKafkaBroker(cfg.Broker.Kafka)
	case config.BrokerNATS:
		return messaging.NewNATSBroker(cfg.Broker.NATS)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}
