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

// Package storage provides the state.Store backends: an in-memory store for
// development and tests, a PostgreSQL store, and a Redis store.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/state"
)

// MemoryStore is an in-memory state.Store. It is thread-safe and suitable
// for development, tests, and workloads that do not need durability across
// restarts. A single mutex serializes transitions, which trivially satisfies
// the per-instance serialization requirement.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]*saga.Instance
	steps     map[string][]*saga.StepRecord
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*saga.Instance),
		steps:     make(map[string][]*saga.StepRecord),
	}
}

// CreateInstance persists a new RUNNING instance together with its first
// STARTED step record. Nothing is stored when the command callback fails.
func (m *MemoryStore) CreateInstance(ctx context.Context, sagaName, firstStep string, command func(sagaID string) ([]byte, error)) (*saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, state.ErrStoreClosed
	}

	now := time.Now().UTC()
	inst := &saga.Instance{
		ID:               uuid.NewString(),
		SagaName:         sagaName,
		Status:           saga.StatusRunning,
		CurrentStepIndex: 0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	payload, err := command(inst.ID)
	if err != nil {
		return nil, err
	}
	rec := &saga.StepRecord{
		ID:             uuid.NewString(),
		SagaInstanceID: inst.ID,
		StepName:       firstStep,
		Status:         saga.StepStatusStarted,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      now,
	}
	m.instances[inst.ID] = inst
	m.steps[inst.ID] = append(m.steps[inst.ID], rec)
	return copyInstance(inst), nil
}

// GetInstance returns the instance with the given ID.
func (m *MemoryStore) GetInstance(ctx context.Context, sagaID string) (*saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, state.ErrStoreClosed
	}

	inst, ok := m.instances[sagaID]
	if !ok {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	return copyInstance(inst), nil
}

// Transition runs fn atomically against the given instance. Writes are
// staged on copies and committed only when fn returns nil.
func (m *MemoryStore) Transition(ctx context.Context, sagaID string, fn func(tx state.Transition) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return state.ErrStoreClosed
	}

	inst, ok := m.instances[sagaID]
	if !ok {
		return saga.NewSagaNotFoundError(sagaID)
	}

	tx := &memoryTransition{
		instance: copyInstance(inst),
		existing: m.steps[sagaID],
	}
	if err := fn(tx); err != nil {
		return err
	}

	tx.instance.UpdatedAt = time.Now().UTC()
	m.instances[sagaID] = tx.instance
	m.steps[sagaID] = append(m.steps[sagaID], tx.appended...)
	return nil
}

// LatestStep returns the most recent record for (sagaID, stepName).
func (m *MemoryStore) LatestStep(ctx context.Context, sagaID, stepName string) (*saga.StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, state.ErrStoreClosed
	}
	if _, ok := m.instances[sagaID]; !ok {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	return latestIn(m.steps[sagaID], stepName), nil
}

// StepHistory returns the full step history in creation order.
func (m *MemoryStore) StepHistory(ctx context.Context, sagaID string) ([]*saga.StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, state.ErrStoreClosed
	}
	if _, ok := m.instances[sagaID]; !ok {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}

	records := m.steps[sagaID]
	out := make([]*saga.StepRecord, len(records))
	for i, r := range records {
		out[i] = copyRecord(r)
	}
	return out, nil
}

// InFlightSteps returns the STARTED step record of every active instance.
func (m *MemoryStore) InFlightSteps(ctx context.Context) ([]*state.InFlightStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, state.ErrStoreClosed
	}

	var out []*state.InFlightStep
	for id, inst := range m.instances {
		if !inst.Status.IsActive() {
			continue
		}
		// The latest STARTED row that has no later row for the same step
		// name is the instance's in-flight step.
		records := m.steps[id]
		for i := len(records) - 1; i >= 0; i-- {
			rec := records[i]
			if rec.Status != saga.StepStatusStarted {
				continue
			}
			if latest := latestIn(records, rec.StepName); latest.ID != rec.ID {
				continue
			}
			out = append(out, &state.InFlightStep{
				Instance: copyInstance(inst),
				Record:   copyRecord(rec),
			})
			break
		}
	}
	return out, nil
}

// Close marks the store closed. Further operations fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memoryTransition stages writes for one Transition call.
type memoryTransition struct {
	instance *saga.Instance
	existing []*saga.StepRecord
	appended []*saga.StepRecord
}

func (t *memoryTransition) Instance() *saga.Instance {
	return t.instance
}

func (t *memoryTransition) LatestStep(stepName string) (*saga.StepRecord, error) {
	if rec := latestIn(t.appended, stepName); rec != nil {
		return copyRecord(rec), nil
	}
	if rec := latestIn(t.existing, stepName); rec != nil {
		return copyRecord(rec), nil
	}
	return nil, nil
}

func (t *memoryTransition) AppendStep(stepName string, status saga.StepStatus, payload []byte) (*saga.StepRecord, error) {
	rec := &saga.StepRecord{
		ID:             uuid.NewString(),
		SagaInstanceID: t.instance.ID,
		StepName:       stepName,
		Status:         status,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      time.Now().UTC(),
	}
	t.appended = append(t.appended, rec)
	return copyRecord(rec), nil
}

func (t *memoryTransition) SetStatus(status saga.Status, currentStepIndex int) {
	t.instance.Status = status
	t.instance.CurrentStepIndex = currentStepIndex
}

// latestIn scans records from the end for the newest row of stepName.
func latestIn(records []*saga.StepRecord, stepName string) *saga.StepRecord {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].StepName == stepName {
			return records[i]
		}
	}
	return nil
}

func copyInstance(inst *saga.Instance) *saga.Instance {
	cp := *inst
	return &cp
}

func copyRecord(rec *saga.StepRecord) *saga.StepRecord {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp
}
