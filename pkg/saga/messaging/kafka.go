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
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
)

// KafkaConfig configures the Kafka broker adapter.
type KafkaConfig struct {
	// Brokers is the bootstrap broker list.
	Brokers []string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`

	// GroupID is the consumer group shared by all subscriptions, so several
	// orchestrator replicas split the reply partitions between them.
	// Defaults to "sagaflow".
	GroupID string `json:"group_id" yaml:"group_id" mapstructure:"group_id"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *KafkaConfig) ApplyDefaults() {
	if c.GroupID == "" {
		c.GroupID = "sagaflow"
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	return nil
}

// KafkaBroker implements Broker on Kafka topics. Channels map to topics and
// the partition key maps to the message key, so all messages of one saga
// instance land on one partition and are consumed in order.
type KafkaBroker struct {
	config KafkaConfig
	writer *kafka.Writer
	logger *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
	closed  bool

	readBackoff time.Duration
}

// kafkaMessageReader is the slice of *kafka.Reader the consume loop needs.
type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewKafkaBroker creates a broker with one shared hash-balanced writer.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBroker{
		config: config,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(config.Brokers...),
			Balancer: &kafka.Hash{},
		},
		logger:      logger.GetLogger(),
		ctx:         ctx,
		cancel:      cancel,
		readBackoff: time.Second,
	}, nil
}

// Publish writes payload to the topic named by channel, keyed for
// partitioning.
func (b *KafkaBroker) Publish(ctx context.Context, channel, key string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: channel,
		Key:   []byte(key),
		Value: payload,
	})
}

// Subscribe starts a group reader on the topic and pumps messages into the
// handler until Close.
func (b *KafkaBroker) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.config.Brokers,
		GroupID: b.config.GroupID,
		Topic:   channel,
	})
	b.readers = append(b.readers, reader)
	b.wg.Add(1)
	go b.consume(channel, reader, handler)
	return nil
}

func (b *KafkaBroker) consume(channel string, reader kafkaMessageReader, handler Handler) {
	defer b.wg.Done()

	// Transient read errors must not kill the reply channel; back off and
	// read again until Close cancels the context.
	const maxBackoff = 30 * time.Second
	backoff := b.readBackoff
	for {
		msg, err := reader.ReadMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn("kafka read failed; retrying",
				zap.String("channel", channel),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = b.readBackoff
		if err := handler(b.ctx, msg.Value); err != nil {
			b.logger.Warn("dropping unprocessable message",
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
}

// Close stops all readers and flushes the writer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	b.cancel()
	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
