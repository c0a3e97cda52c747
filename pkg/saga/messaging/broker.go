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

// Package messaging adapts the saga engine to a message broker: it publishes
// command envelopes to their channels and routes reply events back into the
// engine. Delivery is assumed at-least-once; the engine's idempotency guard
// absorbs duplicates.
package messaging

import (
	"context"
	"errors"
)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("broker is closed")

// Handler consumes one raw message from a channel. A non-nil error means the
// message could not be processed; brokers log and drop such messages rather
// than redelivering them forever.
type Handler func(ctx context.Context, payload []byte) error

// Broker is the transport behind the messaging adapter. Channels are topics,
// subjects, or routing keys depending on the backend. The key hints
// partitioning to backends that support it (Kafka); others ignore it.
type Broker interface {
	// Publish sends payload to the named channel.
	Publish(ctx context.Context, channel, key string, payload []byte) error

	// Subscribe registers handler for every message on the named channel.
	// Consumption starts immediately and continues until Close.
	Subscribe(channel string, handler Handler) error

	// Close stops all consumers and releases transport resources.
	Close() error
}
