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

package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
)

// NATSConfig configures the NATS broker adapter.
type NATSConfig struct {
	// URL is the server address, e.g. nats://localhost:4222.
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// QueueGroup lets several orchestrator replicas share subscriptions so
	// each message is handled once. Defaults to "sagaflow".
	QueueGroup string `json:"queue_group" yaml:"queue_group" mapstructure:"queue_group"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *NATSConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.QueueGroup == "" {
		c.QueueGroup = "sagaflow"
	}
}

// NATSBroker implements Broker on core NATS subjects. Channels map directly
// to subjects; the partition key is ignored since NATS preserves per-subject
// publish order on its own.
type NATSBroker struct {
	config NATSConfig
	conn   *nats.Conn
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewNATSBroker connects to the server.
func NewNATSBroker(config NATSConfig) (*NATSBroker, error) {
	config.ApplyDefaults()

	conn, err := nats.Connect(config.URL, nats.Name("sagaflow"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBroker{
		config: config,
		conn:   conn,
		logger: logger.GetLogger(),
	}, nil
}

// Publish sends payload on the subject named by channel.
func (b *NATSBroker) Publish(ctx context.Context, channel, key string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}
	return b.conn.Publish(channel, payload)
}

// Subscribe joins the queue group on the subject so replicas split the load.
func (b *NATSBroker) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	sub, err := b.conn.QueueSubscribe(channel, b.config.QueueGroup, func(msg *nats.Msg) {
		if err := handler(context.Background(), msg.Data); err != nil {
			b.logger.Warn("dropping unprocessable message",
				zap.String("channel", channel),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", channel, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close drains the connection so in-flight messages finish before shutdown.
func (b *NATSBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
