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
	"sync"

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
)

// MemoryBroker is an in-process broker for tests and single-node
// deployments. Publish delivers synchronously to every subscriber of the
// channel, in subscription order.
type MemoryBroker struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
	logger   *zap.Logger
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		handlers: make(map[string][]Handler),
		logger:   logger.GetLogger(),
	}
}

// Publish delivers payload to every handler subscribed to channel. Messages
// published to a channel with no subscribers are dropped, matching the
// fire-and-forget behavior of a topic with no bound queue.
func (b *MemoryBroker) Publish(ctx context.Context, channel, key string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := make([]Handler, len(b.handlers[channel]))
	copy(handlers, b.handlers[channel])
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Warn("in-memory handler rejected message",
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers handler for channel. Multiple handlers per channel are
// allowed; each receives every message.
func (b *MemoryBroker) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

// Close drops all subscriptions and rejects further operations.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string][]Handler)
	return nil
}
