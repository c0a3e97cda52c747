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

package saga

import (
	"encoding/json"
	"time"
)

// Status represents the overall state of a saga instance.
type Status int

const (
	// StatusCreated indicates the instance record exists but execution has not begun.
	StatusCreated Status = iota

	// StatusRunning indicates the saga is executing forward steps.
	StatusRunning

	// StatusCompleted indicates every step finished successfully.
	StatusCompleted

	// StatusCompensating indicates the saga is unwinding completed steps.
	StatusCompensating

	// StatusCompensated indicates all required compensations finished.
	StatusCompensated

	// StatusCompensationFailed indicates a compensation command failed.
	// The instance is terminal and requires operator attention.
	StatusCompensationFailed

	// StatusCancelled indicates the saga was cancelled before completion.
	StatusCancelled

	// StatusTimedOut indicates the saga was closed by an operator-driven
	// deadline. Step-level timeouts go through the normal failure path and
	// never produce this status directly.
	StatusTimedOut
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	case StatusCompensationFailed:
		return "compensation_failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusCompensationFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// IsActive returns true if the saga still expects step outcomes.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusCompensating
}

// StepStatus represents the state recorded for a single step row.
type StepStatus int

const (
	// StepStatusStarted indicates the step command has been persisted for dispatch.
	StepStatusStarted StepStatus = iota

	// StepStatusCompleted indicates the step reported success.
	StepStatusCompleted

	// StepStatusFailed indicates the step reported failure or timed out.
	StepStatusFailed

	// StepStatusCompensated indicates the step's effects have been unwound,
	// or that it required no compensation while unwinding.
	StepStatusCompensated
)

// String returns the string representation of the StepStatus.
func (s StepStatus) String() string {
	switch s {
	case StepStatusStarted:
		return "started"
	case StepStatusCompleted:
		return "completed"
	case StepStatusFailed:
		return "failed"
	case StepStatusCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// Instance is the durable record of one saga execution.
type Instance struct {
	ID               string    `json:"id"`
	SagaName         string    `json:"saga_name"`
	Status           Status    `json:"status"`
	CurrentStepIndex int       `json:"current_step_index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StepRecord is one row of the append-only step history of an instance.
// A step name may accumulate several rows over the instance's lifetime;
// the most recent row reflects the step's current status.
type StepRecord struct {
	ID             string          `json:"id"`
	SagaInstanceID string          `json:"saga_instance_id"`
	StepName       string          `json:"step_name"`
	Status         StepStatus      `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Command is the outbound envelope dispatched for one saga step.
// It is published to the channel named after CommandType.
type Command struct {
	CommandID     string          `json:"command_id"`
	SagaID        string          `json:"saga_id"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CommandType   string          `json:"command_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Event is the inbound envelope a collaborator emits in reply to a command.
// It is consumed from the channel named after EventType.
type Event struct {
	EventID       string          `json:"event_id"`
	SagaID        string          `json:"saga_id"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	EventType     string          `json:"event_type"`
	Success       bool            `json:"success"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// CompensationSuffix is appended to a step name to form the step name under
// which its compensation is recorded.
const CompensationSuffix = "-compensation"

// CompensationStepName returns the record name for a step's compensation.
func CompensationStepName(stepName string) string {
	return stepName + CompensationSuffix
}
