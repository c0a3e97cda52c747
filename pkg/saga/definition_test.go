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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStep(name string) StepDefinition {
	return StepDefinition{
		Name:             name,
		CommandChannel:   name + ".do",
		SuccessEventType: name + ".done",
		FailureEventType: name + ".failed",
		Timeout:          10 * time.Second,
	}
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr string
	}{
		{
			name:   "valid definition",
			mutate: func(d *Definition) {},
		},
		{
			name:    "empty saga name",
			mutate:  func(d *Definition) { d.Name = "" },
			wantErr: "saga name must not be empty",
		},
		{
			name:    "no steps",
			mutate:  func(d *Definition) { d.Steps = nil },
			wantErr: "has no steps",
		},
		{
			name:    "unnamed step",
			mutate:  func(d *Definition) { d.Steps[0].Name = "" },
			wantErr: "has no name",
		},
		{
			name:    "duplicate step name",
			mutate:  func(d *Definition) { d.Steps[1].Name = d.Steps[0].Name },
			wantErr: "duplicate step name",
		},
		{
			name:    "missing command channel",
			mutate:  func(d *Definition) { d.Steps[0].CommandChannel = "" },
			wantErr: "no command channel",
		},
		{
			name:    "missing success event type",
			mutate:  func(d *Definition) { d.Steps[0].SuccessEventType = "" },
			wantErr: "success and failure event types",
		},
		{
			name:    "missing failure event type",
			mutate:  func(d *Definition) { d.Steps[1].FailureEventType = "" },
			wantErr: "success and failure event types",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(d *Definition) { d.Steps[0].Timeout = 0 },
			wantErr: "positive timeout",
		},
		{
			name: "compensation channel without reply event types",
			mutate: func(d *Definition) {
				d.Steps[0].CompensationChannel = "undo"
			},
			wantErr: "reply event types",
		},
		{
			name: "complete compensation wiring",
			mutate: func(d *Definition) {
				d.Steps[0].CompensationChannel = "undo"
				d.Steps[0].CompensationSuccessEventType = "undone"
				d.Steps[0].CompensationFailureEventType = "undo.failed"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &Definition{
				Name:  "test-saga",
				Steps: []StepDefinition{validStep("StepA"), validStep("StepB")},
			}
			tt.mutate(def)

			err := def.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), ErrCodeInvalidDefinition)
		})
	}
}

func TestStepByName(t *testing.T) {
	def := &Definition{
		Name:  "test-saga",
		Steps: []StepDefinition{validStep("First"), validStep("Second")},
	}

	step, idx := def.StepByName("Second")
	require.NotNil(t, step)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "Second", step.Name)

	step, idx = def.StepByName("Missing")
	assert.Nil(t, step)
	assert.Equal(t, -1, idx)
}

func TestHasCompensation(t *testing.T) {
	step := validStep("StepA")
	assert.False(t, step.HasCompensation())

	step.CompensationChannel = "stepa.undo"
	assert.True(t, step.HasCompensation())
}
