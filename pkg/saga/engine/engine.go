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

// Package engine implements the saga state machine. The engine exclusively
// owns instance and step status transitions: it records every step outcome
// and the resulting instance status inside one store transaction before any
// command becomes externally observable (persist-then-publish), advances the
// saga forward on success, and unwinds completed steps in reverse order on
// failure.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/state"
)

var (
	// ErrEngineClosed indicates the engine has been shut down.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrStoreNotConfigured indicates the state store is missing.
	ErrStoreNotConfigured = errors.New("state store not configured")

	// ErrRegistryNotConfigured indicates the definition registry is missing.
	ErrRegistryNotConfigured = errors.New("definition registry not configured")

	// ErrPublisherNotConfigured indicates the command publisher is missing.
	ErrPublisherNotConfigured = errors.New("command publisher not configured")
)

// CommandPublisher dispatches a command envelope to the channel named by its
// CommandType. The messaging adapter provides the production implementation.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd *saga.Command) error
}

// Outcome is the generic result of one step, extracted from a reply event by
// the messaging adapter or synthesized by the timeout scanner. The engine
// only distinguishes "succeeded" from "did not succeed"; business and
// infrastructure failures take the same path.
type Outcome struct {
	Success       bool
	ErrorMessage  string
	Payload       json.RawMessage
	CorrelationID string
}

// Config contains engine tuning options.
type Config struct {
	// TimeoutScanInterval is how often in-flight steps are checked against
	// their step timeout. Defaults to 1s.
	TimeoutScanInterval time.Duration `json:"timeout_scan_interval" yaml:"timeout_scan_interval" mapstructure:"timeout_scan_interval"`

	// RedispatchInterval is how often the recovery sweep runs. Defaults to 5s.
	RedispatchInterval time.Duration `json:"redispatch_interval" yaml:"redispatch_interval" mapstructure:"redispatch_interval"`

	// RedispatchAfter is the age an in-flight step must reach before its
	// persisted command is re-published. Defaults to 10s.
	RedispatchAfter time.Duration `json:"redispatch_after" yaml:"redispatch_after" mapstructure:"redispatch_after"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.TimeoutScanInterval <= 0 {
		c.TimeoutScanInterval = time.Second
	}
	if c.RedispatchInterval <= 0 {
		c.RedispatchInterval = 5 * time.Second
	}
	if c.RedispatchAfter <= 0 {
		c.RedispatchAfter = 10 * time.Second
	}
}

// Engine drives saga instances through their state machine.
type Engine struct {
	registry  *saga.Registry
	store     state.Store
	publisher CommandPublisher
	metrics   MetricsCollector
	config    Config
	logger    *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Options assembles an Engine.
type Options struct {
	Registry  *saga.Registry
	Store     state.Store
	Publisher CommandPublisher
	Metrics   MetricsCollector
	Config    Config
	Logger    *zap.Logger
}

// New creates an Engine from the given options. Registry, store, and
// publisher are required; metrics and logger default to no-op and the global
// logger respectively.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, ErrRegistryNotConfigured
	}
	if opts.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	if opts.Publisher == nil {
		return nil, ErrPublisherNotConfigured
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	opts.Config.ApplyDefaults()

	return &Engine{
		registry:  opts.Registry,
		store:     opts.Store,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		config:    opts.Config,
		logger:    opts.Logger,
		stopCh:    make(chan struct{}),
	}, nil
}

func (e *Engine) checkClosed() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// StartSaga creates a new instance of the named saga and dispatches the
// command for its first step. It fails with an UNKNOWN_SAGA error, creating
// no instance, when the name is not registered.
func (e *Engine) StartSaga(ctx context.Context, sagaName string, payload json.RawMessage) (*saga.Instance, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	def, err := e.registry.Lookup(sagaName)
	if err != nil {
		return nil, err
	}

	// The instance and its first STARTED record commit together: a partial
	// creation would be invisible to the timeout scanner and the sweep.
	correlationID := uuid.NewString()
	first := &def.Steps[0]
	var cmd *saga.Command
	inst, err := e.store.CreateInstance(ctx, sagaName, first.Name, func(sagaID string) ([]byte, error) {
		cmd = newCommand(first.CommandChannel, sagaID, correlationID, payload)
		raw, err := json.Marshal(cmd)
		if err != nil {
			return nil, saga.NewStorageError("StartSaga", err)
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordSagaStarted(sagaName)
	e.logger.Info("saga started",
		zap.String("saga_id", inst.ID),
		zap.String("saga_name", sagaName),
		zap.String("correlation_id", correlationID),
		zap.String("first_step", first.Name))

	e.dispatch(ctx, inst.SagaName, cmd)
	return inst, nil
}

// OnStepOutcome applies one step outcome to its saga instance. The outcome
// is recorded and the instance advanced, compensated, or terminated inside a
// single store transaction; any follow-up command is dispatched only after
// the transaction commits. Duplicate and late outcomes are absorbed without
// effect. This is the single entry point for broker replies and synthesized
// timeout failures alike.
func (e *Engine) OnStepOutcome(ctx context.Context, sagaID, stepName string, outcome Outcome) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	var (
		dispatches []*saga.Command
		discarded  bool
		sagaName   string
		final      saga.Status
		startedAt  time.Time
	)

	err := e.store.Transition(ctx, sagaID, func(tx state.Transition) error {
		dispatches = dispatches[:0]
		discarded = false

		inst := tx.Instance()
		sagaName = inst.SagaName

		// Late replies for already-terminal instances carry no information.
		if inst.Status.IsTerminal() {
			discarded = true
			final = inst.Status
			return nil
		}

		def, err := e.registry.Lookup(inst.SagaName)
		if err != nil {
			return err
		}

		// Idempotency guard: only a STARTED latest row may receive an
		// outcome. Anything else is a redelivery or a race already decided
		// (e.g. a timeout-driven failure beating a late success).
		latest, err := tx.LatestStep(stepName)
		if err != nil {
			return err
		}
		if latest == nil || latest.Status != saga.StepStatusStarted {
			discarded = true
			final = inst.Status
			return nil
		}
		startedAt = latest.CreatedAt

		recorded := saga.StepStatusCompleted
		if !outcome.Success {
			recorded = saga.StepStatusFailed
		}
		if _, err := tx.AppendStep(stepName, recorded, outcome.Payload); err != nil {
			return err
		}

		if base, ok := strings.CutSuffix(stepName, saga.CompensationSuffix); ok {
			err = e.applyCompensationOutcome(tx, def, base, outcome, &dispatches)
		} else {
			err = e.applyForwardOutcome(tx, def, stepName, outcome, &dispatches)
		}
		final = tx.Instance().Status
		return err
	})
	if err != nil {
		return err
	}

	if discarded {
		e.metrics.RecordDuplicateOutcome(sagaName, stepName)
		e.logger.Debug("duplicate step outcome discarded",
			zap.String("saga_id", sagaID),
			zap.String("step", stepName),
			zap.Bool("success", outcome.Success))
		return nil
	}

	e.metrics.RecordStepDuration(sagaName, stepName, time.Since(startedAt))
	e.recordTerminal(sagaID, sagaName, stepName, final)

	for _, cmd := range dispatches {
		e.dispatch(ctx, sagaName, cmd)
	}
	return nil
}

// applyForwardOutcome handles the outcome of a forward step: advance to the
// next step, complete the saga, or begin compensation.
func (e *Engine) applyForwardOutcome(tx state.Transition, def *saga.Definition, stepName string, outcome Outcome, dispatches *[]*saga.Command) error {
	stepDef, idx := def.StepByName(stepName)
	if stepDef == nil {
		return saga.NewError(saga.ErrCodeInvalidState, "step "+stepName+" is not part of saga "+def.Name)
	}

	inst := tx.Instance()
	if !outcome.Success {
		// Begin unwinding from the most recently completed step. When no
		// completed step needs compensating the saga goes directly to
		// COMPENSATED.
		cmd, err := e.nextCompensation(tx, def, idx-1, outcome.CorrelationID)
		if err != nil {
			return err
		}
		if cmd != nil {
			*dispatches = append(*dispatches, cmd)
		}
		return nil
	}

	if idx+1 < len(def.Steps) {
		next := &def.Steps[idx+1]
		cmd := newCommand(next.CommandChannel, inst.ID, outcome.CorrelationID, outcome.Payload)
		raw, err := json.Marshal(cmd)
		if err != nil {
			return saga.NewStorageError("OnStepOutcome", err)
		}
		tx.SetStatus(saga.StatusRunning, idx+1)
		if _, err := tx.AppendStep(next.Name, saga.StepStatusStarted, raw); err != nil {
			return err
		}
		*dispatches = append(*dispatches, cmd)
		return nil
	}

	tx.SetStatus(saga.StatusCompleted, idx)
	return nil
}

// applyCompensationOutcome handles the outcome of a compensation step:
// continue unwinding earlier completed steps or terminate.
func (e *Engine) applyCompensationOutcome(tx state.Transition, def *saga.Definition, baseStep string, outcome Outcome, dispatches *[]*saga.Command) error {
	inst := tx.Instance()

	if !outcome.Success {
		// A failed rollback is not retried blindly; the instance is parked
		// for manual intervention.
		tx.SetStatus(saga.StatusCompensationFailed, inst.CurrentStepIndex)
		return nil
	}

	_, idx := def.StepByName(baseStep)
	if idx < 0 {
		return saga.NewError(saga.ErrCodeInvalidState, "step "+baseStep+" is not part of saga "+def.Name)
	}

	next, err := e.nextCompensation(tx, def, idx-1, outcome.CorrelationID)
	if err != nil {
		return err
	}
	if next != nil {
		*dispatches = append(*dispatches, next)
	}
	return nil
}

// nextCompensation walks backward from index from looking for the most
// recently completed step that declares a compensation channel. Completed
// steps without one are recorded COMPENSATED and skipped. When a compensable
// step is found its compensation is persisted as STARTED and its command
// returned for dispatch; when none remains the saga becomes COMPENSATED.
func (e *Engine) nextCompensation(tx state.Transition, def *saga.Definition, from int, correlationID string) (*saga.Command, error) {
	inst := tx.Instance()

	for i := from; i >= 0; i-- {
		step := &def.Steps[i]
		latest, err := tx.LatestStep(step.Name)
		if err != nil {
			return nil, err
		}
		if latest == nil || latest.Status != saga.StepStatusCompleted {
			continue
		}
		if !step.HasCompensation() {
			if _, err := tx.AppendStep(step.Name, saga.StepStatusCompensated, nil); err != nil {
				return nil, err
			}
			continue
		}

		cmd := newCommand(step.CompensationChannel, inst.ID, correlationID, latest.Payload)
		raw, err := json.Marshal(cmd)
		if err != nil {
			return nil, saga.NewStorageError("OnStepOutcome", err)
		}
		tx.SetStatus(saga.StatusCompensating, i)
		if _, err := tx.AppendStep(saga.CompensationStepName(step.Name), saga.StepStatusStarted, raw); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	tx.SetStatus(saga.StatusCompensated, inst.CurrentStepIndex)
	return nil, nil
}

// Cancel terminates an instance that has not progressed past RUNNING.
// Cancellation never compensates completed steps; unwinding a partially
// executed saga is the job of the failure path.
func (e *Engine) Cancel(ctx context.Context, sagaID string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	var sagaName string
	err := e.store.Transition(ctx, sagaID, func(tx state.Transition) error {
		inst := tx.Instance()
		sagaName = inst.SagaName
		if inst.Status != saga.StatusCreated && inst.Status != saga.StatusRunning {
			return saga.NewInvalidStateError(sagaID, inst.Status, "cancel")
		}
		tx.SetStatus(saga.StatusCancelled, inst.CurrentStepIndex)
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.RecordSagaCancelled(sagaName)
	e.logger.Info("saga cancelled", zap.String("saga_id", sagaID), zap.String("saga_name", sagaName))
	return nil
}

// Instance returns the current instance record.
func (e *Engine) Instance(ctx context.Context, sagaID string) (*saga.Instance, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.store.GetInstance(ctx, sagaID)
}

// StepHistory returns the instance's append-only step history.
func (e *Engine) StepHistory(ctx context.Context, sagaID string) ([]*saga.StepRecord, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.store.StepHistory(ctx, sagaID)
}

// dispatch publishes a command after its transition committed. A publish
// failure is logged, never surfaced: the persisted state already reflects
// the step and the redispatch sweep re-publishes the command later.
func (e *Engine) dispatch(ctx context.Context, sagaName string, cmd *saga.Command) {
	if err := e.publisher.PublishCommand(ctx, cmd); err != nil {
		e.logger.Error("command dispatch failed; sweep will re-publish",
			zap.String("saga_id", cmd.SagaID),
			zap.String("channel", cmd.CommandType),
			zap.Error(err))
		return
	}
	e.metrics.RecordCommandPublished(cmd.CommandType)
}

// recordTerminal emits metrics and logs when a transition reached a terminal
// status.
func (e *Engine) recordTerminal(sagaID, sagaName, stepName string, status saga.Status) {
	switch status {
	case saga.StatusCompleted:
		e.metrics.RecordSagaCompleted(sagaName)
		e.logger.Info("saga completed", zap.String("saga_id", sagaID), zap.String("saga_name", sagaName))
	case saga.StatusCompensated:
		e.metrics.RecordSagaCompensated(sagaName)
		e.logger.Info("saga compensated", zap.String("saga_id", sagaID), zap.String("saga_name", sagaName))
	case saga.StatusCompensationFailed:
		e.metrics.RecordCompensationFailed(sagaName)
		e.logger.Error("compensation failed; manual intervention required",
			zap.String("saga_id", sagaID),
			zap.String("saga_name", sagaName),
			zap.String("step", stepName))
	}
}

// Close stops the background loops and marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	return nil
}

// newCommand builds a fully populated command envelope.
func newCommand(channel, sagaID, correlationID string, payload json.RawMessage) *saga.Command {
	return &saga.Command{
		CommandID:     uuid.NewString(),
		SagaID:        sagaID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		CommandType:   channel,
		Payload:       payload,
	}
}
