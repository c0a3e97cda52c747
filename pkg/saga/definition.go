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

// Package saga defines the domain types of the saga orchestration engine:
// saga and step definitions, instance and step-history records, the
// command/event envelopes exchanged with collaborating services, and the
// definition registry.
package saga

import (
	"fmt"
	"time"
)

// StepDefinition is the static configuration of one saga step. The command
// channel doubles as the command type; replies are routed by their explicit
// event type, never by payload shape.
type StepDefinition struct {
	// Name identifies the step within its saga. Unique per definition.
	Name string `json:"name" yaml:"name"`

	// CommandChannel is the channel (and command type) of the forward command.
	CommandChannel string `json:"command_channel" yaml:"command_channel"`

	// SuccessEventType is the event type a collaborator emits on success.
	SuccessEventType string `json:"success_event_type" yaml:"success_event_type"`

	// FailureEventType is the event type a collaborator emits on failure.
	FailureEventType string `json:"failure_event_type" yaml:"failure_event_type"`

	// CompensationChannel is the channel of the compensating command.
	// Empty means the step needs no compensation while unwinding.
	CompensationChannel string `json:"compensation_channel,omitempty" yaml:"compensation_channel,omitempty"`

	// CompensationSuccessEventType is the reply type of a successful compensation.
	CompensationSuccessEventType string `json:"compensation_success_event_type,omitempty" yaml:"compensation_success_event_type,omitempty"`

	// CompensationFailureEventType is the reply type of a failed compensation.
	CompensationFailureEventType string `json:"compensation_failure_event_type,omitempty" yaml:"compensation_failure_event_type,omitempty"`

	// Timeout bounds how long the engine waits for a reply before it
	// synthesizes a failure outcome for the step.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// HasCompensation reports whether the step declares a compensating command.
func (s *StepDefinition) HasCompensation() bool {
	return s.CompensationChannel != ""
}

// Definition is the immutable description of one saga type: its name and the
// ordered steps it executes. Definitions are registered once at startup and
// never mutated afterwards.
type Definition struct {
	// Name is the unique saga type name used to start instances.
	Name string `json:"name" yaml:"name"`

	// Steps is the ordered list of step definitions.
	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// Validate checks the definition for correctness and consistency.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return NewError(ErrCodeInvalidDefinition, "saga name must not be empty")
	}
	if len(d.Steps) == 0 {
		return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q has no steps", d.Name))
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.Name == "" {
			return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q: step %d has no name", d.Name, i))
		}
		if _, dup := seen[step.Name]; dup {
			return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q: duplicate step name %q", d.Name, step.Name))
		}
		seen[step.Name] = struct{}{}

		if step.CommandChannel == "" {
			return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q: step %q has no command channel", d.Name, step.Name))
		}
		if step.SuccessEventType == "" || step.FailureEventType == "" {
			return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q: step %q must declare success and failure event types", d.Name, step.Name))
		}
		if step.Timeout <= 0 {
			return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q: step %q must have a positive timeout", d.Name, step.Name))
		}
		if step.HasCompensation() {
			if step.CompensationSuccessEventType == "" || step.CompensationFailureEventType == "" {
				return NewError(ErrCodeInvalidDefinition, fmt.Sprintf("saga %q: step %q declares a compensation channel but not its reply event types", d.Name, step.Name))
			}
		}
	}
	return nil
}

// StepByName returns the step definition with the given name and its index.
// The second return value is -1 when the step is not part of the definition.
func (d *Definition) StepByName(name string) (*StepDefinition, int) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], i
		}
	}
	return nil, -1
}
