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

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
)

// CommandPublisher publishes command envelopes through a Broker. Messages
// are keyed by saga ID so partitioned backends keep one instance's commands
// in order.
type CommandPublisher struct {
	broker Broker
	logger *zap.Logger
}

// NewCommandPublisher creates a publisher on top of the given broker.
func NewCommandPublisher(broker Broker) *CommandPublisher {
	return &CommandPublisher{
		broker: broker,
		logger: logger.GetLogger(),
	}
}

// PublishCommand encodes cmd and publishes it to the channel named by its
// CommandType.
func (p *CommandPublisher) PublishCommand(ctx context.Context, cmd *saga.Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return saga.NewPublishError(cmd.CommandType, err)
	}
	if err := p.broker.Publish(ctx, cmd.CommandType, cmd.SagaID, raw); err != nil {
		return saga.NewPublishError(cmd.CommandType, err)
	}
	p.logger.Debug("command published",
		zap.String("channel", cmd.CommandType),
		zap.String("saga_id", cmd.SagaID),
		zap.String("command_id", cmd.CommandID),
		zap.String("correlation_id", cmd.CorrelationID))
	return nil
}
