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

// Package config loads the orchestrator configuration from sagaflow.yaml and
// SAGAFLOW_* environment variables, environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/flowmech/sagaflow/pkg/saga/engine"
	"github.com/flowmech/sagaflow/pkg/saga/messaging"
	"github.com/flowmech/sagaflow/pkg/saga/state/storage"
)

// Storage backend names.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Broker backend names.
const (
	BrokerMemory   = "memory"
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerNATS     = "nats"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `json:"port" yaml:"port" mapstructure:"port"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}

// OrchestratorConfig is the root configuration of the sagaflow service.
type OrchestratorConfig struct {
	Server  ServerConfig  `json:"server" yaml:"server" mapstructure:"server"`
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`

	Storage struct {
		Backend  string                 `json:"backend" yaml:"backend" mapstructure:"backend"`
		Postgres storage.PostgresConfig `json:"postgres" yaml:"postgres" mapstructure:"postgres"`
		Redis    storage.RedisConfig    `json:"redis" yaml:"redis" mapstructure:"redis"`
	} `json:"storage" yaml:"storage" mapstructure:"storage"`

	Broker struct {
		Backend  string                   `json:"backend" yaml:"backend" mapstructure:"backend"`
		RabbitMQ messaging.RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" mapstructure:"rabbitmq"`
		Kafka    messaging.KafkaConfig    `json:"kafka" yaml:"kafka" mapstructure:"kafka"`
		NATS     messaging.NATSConfig     `json:"nats" yaml:"nats" mapstructure:"nats"`
	} `json:"broker" yaml:"broker" mapstructure:"broker"`

	Engine   engine.Config            `json:"engine" yaml:"engine" mapstructure:"engine"`
	Consumer messaging.ConsumerConfig `json:"consumer" yaml:"consumer" mapstructure:"consumer"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *OrchestratorConfig) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Broker.Backend == "" {
		c.Broker.Backend = BrokerMemory
	}
	c.Engine.ApplyDefaults()
	c.Consumer.ApplyDefaults()
}

// Validate checks backend selections and the selected backends' settings.
func (c *OrchestratorConfig) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Broker.Backend {
	case BrokerMemory:
	case BrokerRabbitMQ:
		if err := c.Broker.RabbitMQ.Validate(); err != nil {
			return err
		}
	case BrokerKafka:
		if err := c.Broker.Kafka.Validate(); err != nil {
			return err
		}
	case BrokerNATS:
	default:
		return fmt.Errorf("unknown broker backend %q", c.Broker.Backend)
	}
	return nil
}

// Load reads the configuration. When path is empty it looks for
// sagaflow.yaml in the working directory and /etc/sagaflow/. A missing file
// is not an error; defaults and environment variables still apply.
func Load(path string) (*OrchestratorConfig, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sagaflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sagaflow/")
	}
	v.SetEnvPrefix("SAGAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &OrchestratorConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
