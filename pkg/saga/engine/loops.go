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

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// Start launches the timeout scanner and the redispatch sweep. Both stop
// when Close is called.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.timeoutLoop()
	go e.sweepLoop()
}

func (e *Engine) timeoutLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.TimeoutScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.ScanTimeouts(context.Background()); err != nil {
				e.logger.Error("timeout scan failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.RedispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.Sweep(context.Background()); err != nil {
				e.logger.Error("redispatch sweep failed", zap.Error(err))
			}
		}
	}
}

// ScanTimeouts synthesizes a failure outcome for every in-flight step older
// than its definition timeout, feeding it through OnStepOutcome so timeouts
// and ordinary failures share one code path and one idempotency guard. A
// late real reply arriving afterwards is absorbed by that guard. Returns the
// number of timeouts applied.
func (e *Engine) ScanTimeouts(ctx context.Context) (int, error) {
	inflight, err := e.store.InFlightSteps(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	timedOut := 0
	for _, f := range inflight {
		def, err := e.registry.Lookup(f.Instance.SagaName)
		if err != nil {
			e.logger.Warn("in-flight step of unregistered saga skipped",
				zap.String("saga_id", f.Instance.ID),
				zap.String("saga_name", f.Instance.SagaName))
			continue
		}

		base, _ := strings.CutSuffix(f.Record.StepName, saga.CompensationSuffix)
		stepDef, _ := def.StepByName(base)
		if stepDef == nil {
			continue
		}
		age := now.Sub(f.Record.CreatedAt)
		if age < stepDef.Timeout {
			continue
		}

		outcome := Outcome{
			Success:       false,
			ErrorMessage:  fmt.Sprintf("step timed out after %s", age.Truncate(time.Millisecond)),
			CorrelationID: correlationFromRecord(f.Record),
		}
		if err := e.OnStepOutcome(ctx, f.Instance.ID, f.Record.StepName, outcome); err != nil {
			e.logger.Error("applying step timeout failed",
				zap.String("saga_id", f.Instance.ID),
				zap.String("step", f.Record.StepName),
				zap.Error(err))
			continue
		}
		e.metrics.RecordStepTimeout(f.Instance.SagaName, f.Record.StepName)
		e.logger.Warn("step timed out",
			zap.String("saga_id", f.Instance.ID),
			zap.String("step", f.Record.StepName),
			zap.Duration("age", age))
		timedOut++
	}
	return timedOut, nil
}

// Sweep re-publishes the persisted command of every in-flight step older
// than the redispatch threshold, recovering from a crash between persist and
// publish. Duplicate dispatch is safe: collaborators deduplicate on
// commandId and duplicate replies are absorbed by the outcome guard. Returns
// the number of commands re-published.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	inflight, err := e.store.InFlightSteps(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	redispatched := 0
	for _, f := range inflight {
		if now.Sub(f.Record.CreatedAt) < e.config.RedispatchAfter {
			continue
		}

		cmd := &saga.Command{}
		if err := json.Unmarshal(f.Record.Payload, cmd); err != nil {
			e.logger.Error("in-flight step carries an unreadable command",
				zap.String("saga_id", f.Instance.ID),
				zap.String("step", f.Record.StepName),
				zap.Error(err))
			continue
		}

		if err := e.publisher.PublishCommand(ctx, cmd); err != nil {
			e.logger.Error("command re-publish failed",
				zap.String("saga_id", cmd.SagaID),
				zap.String("channel", cmd.CommandType),
				zap.Error(err))
			continue
		}
		e.metrics.RecordCommandRedispatched(cmd.CommandType)
		e.logger.Info("command re-published",
			zap.String("saga_id", cmd.SagaID),
			zap.String("step", f.Record.StepName),
			zap.String("channel", cmd.CommandType))
		redispatched++
	}
	return redispatched, nil
}

// correlationFromRecord recovers the correlation ID from the command
// persisted in a STARTED step record.
func correlationFromRecord(rec *saga.StepRecord) string {
	cmd := &saga.Command{}
	if err := json.Unmarshal(rec.Payload, cmd); err != nil {
		return ""
	}
	return cmd.CorrelationID
}
