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

// Package state defines the durable saga state store contract. The engine is
// the only writer; all mutation goes through CreateInstance and Transition,
// never through ad hoc read-then-write sequences.
package state

import (
	"context"
	"errors"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("state store is closed")

// Transition is the view of one instance inside a transactional transition.
// Writes made through it become visible to its own reads immediately and to
// everyone else only when the transition function returns nil.
type Transition interface {
	// Instance returns the instance row as seen inside the transaction.
	Instance() *saga.Instance

	// LatestStep returns the most recent step record for the given step
	// name, or (nil, nil) when the step has no record yet.
	LatestStep(stepName string) (*saga.StepRecord, error)

	// AppendStep appends a row to the instance's step history.
	AppendStep(stepName string, status saga.StepStatus, payload []byte) (*saga.StepRecord, error)

	// SetStatus updates the instance status and current step index.
	SetStatus(status saga.Status, currentStepIndex int)
}

// InFlightStep pairs an active instance with its single STARTED step record.
// The engine's timeout scanner and redispatch sweep consume these.
type InFlightStep struct {
	Instance *saga.Instance
	Record   *saga.StepRecord
}

// Store persists saga instances and their append-only step histories.
//
// Transition must serialize concurrent calls for the same saga ID: two
// replies racing for one instance must observe each other's writes, never
// interleave. Backends enforce this with a mutex, a row lock, or an
// optimistic version check with retry.
type Store interface {
	// CreateInstance persists a new RUNNING instance at step 0 together with
	// the STARTED record of its first step in one atomic write, so a crash
	// can never leave an active instance with no step history. The command
	// callback receives the generated instance ID and returns the serialized
	// first command, stored as the step record's payload; when it errors
	// nothing is persisted.
	CreateInstance(ctx context.Context, sagaName, firstStep string, command func(sagaID string) ([]byte, error)) (*saga.Instance, error)

	// GetInstance returns the instance with the given ID, or a
	// SAGA_NOT_FOUND error when absent.
	GetInstance(ctx context.Context, sagaID string) (*saga.Instance, error)

	// Transition runs fn atomically against the given instance. An error
	// from fn rolls every write back and is returned unchanged.
	Transition(ctx context.Context, sagaID string, fn func(tx Transition) error) error

	// LatestStep returns the most recent record for (sagaID, stepName),
	// or (nil, nil) when none exists.
	LatestStep(ctx context.Context, sagaID, stepName string) (*saga.StepRecord, error)

	// StepHistory returns the full step history in creation order.
	StepHistory(ctx context.Context, sagaID string) ([]*saga.StepRecord, error)

	// InFlightSteps returns, for every active instance, its STARTED step
	// record. Instances in terminal states are excluded.
	InFlightSteps(ctx context.Context) ([]*InFlightStep, error)

	// Close releases backend resources.
	Close() error
}
