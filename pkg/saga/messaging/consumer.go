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
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/engine"
)

// OutcomeHandler receives the step outcomes the consumer extracts from reply
// events. The saga engine is the production implementation.
type OutcomeHandler interface {
	OnStepOutcome(ctx context.Context, sagaID, stepName string, outcome engine.Outcome) error
}

// route resolves one event type to the step record it reports on.
type route struct {
	sagaName string
	stepName string
	success  bool
}

// ReplyConsumer subscribes to every reply channel declared across all
// registered definitions and feeds decoded outcomes into the engine.
//
// Replies are fanned out over a fixed pool of serial workers partitioned by
// FNV hash of the saga ID, so two replies for the same instance are never
// applied concurrently. Malformed messages, unknown event types, and replies
// for unknown instances are logged and dropped; a bad message must not stall
// other sagas.
type ReplyConsumer struct {
	broker  Broker
	handler OutcomeHandler
	routes  map[string]route
	logger  *zap.Logger

	workers []chan inboundReply
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

type inboundReply struct {
	sagaID   string
	stepName string
	outcome  engine.Outcome
}

// ConsumerConfig tunes the reply consumer.
type ConsumerConfig struct {
	// Workers is the size of the serial worker pool. Defaults to 8.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// QueueDepth is the per-worker buffer. Defaults to 128.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth" mapstructure:"queue_depth"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *ConsumerConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 128
	}
}

// NewReplyConsumer builds the event-type routing table from every definition
// in the registry. It fails when two definitions claim the same event type:
// reply routing must be unambiguous.
func NewReplyConsumer(broker Broker, registry *saga.Registry, handler OutcomeHandler, config ConsumerConfig) (*ReplyConsumer, error) {
	config.ApplyDefaults()

	routes := make(map[string]route)
	add := func(eventType string, r route) error {
		if eventType == "" {
			return nil
		}
		if prev, dup := routes[eventType]; dup {
			return fmt.Errorf("event type %q declared by both saga %q and saga %q", eventType, prev.sagaName, r.sagaName)
		}
		routes[eventType] = r
		return nil
	}

	for _, def := range registry.Definitions() {
		for i := range def.Steps {
			step := &def.Steps[i]
			if err := add(step.SuccessEventType, route{def.Name, step.Name, true}); err != nil {
				return nil, err
			}
			if err := add(step.FailureEventType, route{def.Name, step.Name, false}); err != nil {
				return nil, err
			}
			if !step.HasCompensation() {
				continue
			}
			comp := saga.CompensationStepName(step.Name)
			if err := add(step.CompensationSuccessEventType, route{def.Name, comp, true}); err != nil {
				return nil, err
			}
			if err := add(step.CompensationFailureEventType, route{def.Name, comp, false}); err != nil {
				return nil, err
			}
		}
	}

	c := &ReplyConsumer{
		broker:  broker,
		handler: handler,
		routes:  routes,
		logger:  logger.GetLogger(),
		workers: make([]chan inboundReply, config.Workers),
	}
	for i := range c.workers {
		c.workers[i] = make(chan inboundReply, config.QueueDepth)
	}
	return c, nil
}

// Channels returns the sorted-free set of reply channels the consumer
// subscribes to; one channel per declared event type.
func (c *ReplyConsumer) Channels() []string {
	out := make([]string, 0, len(c.routes))
	for eventType := range c.routes {
		out = append(out, eventType)
	}
	return out
}

// Start subscribes to every reply channel and launches the worker pool.
func (c *ReplyConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := range c.workers {
		c.wg.Add(1)
		go c.runWorker(ctx, c.workers[i])
	}

	for eventType := range c.routes {
		if err := c.broker.Subscribe(eventType, c.handleMessage); err != nil {
			cancel()
			return fmt.Errorf("subscribe to %q: %w", eventType, err)
		}
	}

	c.started = true
	c.logger.Info("reply consumer started",
		zap.Int("channels", len(c.routes)),
		zap.Int("workers", len(c.workers)))
	return nil
}

// Close stops the worker pool. The broker's own Close stops consumption.
func (c *ReplyConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.started = false
	return nil
}

// handleMessage decodes one reply event and enqueues it on the worker owning
// its saga ID. It always returns nil: a message that cannot be processed is
// logged and dropped.
func (c *ReplyConsumer) handleMessage(ctx context.Context, payload []byte) error {
	event := &saga.Event{}
	if err := json.Unmarshal(payload, event); err != nil {
		c.logger.Warn("dropping malformed reply", zap.Error(err))
		return nil
	}
	if event.SagaID == "" || event.EventType == "" {
		c.logger.Warn("dropping reply without saga id or event type",
			zap.String("event_id", event.EventID))
		return nil
	}

	r, ok := c.routes[event.EventType]
	if !ok {
		c.logger.Warn("dropping reply with unroutable event type",
			zap.String("event_type", event.EventType),
			zap.String("saga_id", event.SagaID))
		return nil
	}

	reply := inboundReply{
		sagaID:   event.SagaID,
		stepName: r.stepName,
		outcome: engine.Outcome{
			Success:       r.success,
			ErrorMessage:  event.ErrorMessage,
			Payload:       event.Payload,
			CorrelationID: event.CorrelationID,
		},
	}

	select {
	case c.workers[c.partition(event.SagaID)] <- reply:
	case <-ctx.Done():
	}
	return nil
}

// runWorker applies queued replies one at a time.
func (c *ReplyConsumer) runWorker(ctx context.Context, queue <-chan inboundReply) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-queue:
			err := c.handler.OnStepOutcome(ctx, reply.sagaID, reply.stepName, reply.outcome)
			switch {
			case err == nil:
			case saga.IsSagaNotFound(err):
				c.logger.Warn("dropping reply for unknown saga instance",
					zap.String("saga_id", reply.sagaID),
					zap.String("step", reply.stepName))
			default:
				c.logger.Error("applying step outcome failed",
					zap.String("saga_id", reply.sagaID),
					zap.String("step", reply.stepName),
					zap.Error(err))
			}
		}
	}
}

// partition maps a saga ID onto a worker index.
func (c *ReplyConsumer) partition(sagaID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sagaID))
	return int(h.Sum32() % uint32(len(c.workers)))
}
