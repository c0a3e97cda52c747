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

package flows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmech/sagaflow/pkg/saga"
)

func TestBuiltinFlowsAreValid(t *testing.T) {
	for _, def := range []*saga.Definition{UserOnboarding(), PaymentProcessing()} {
		t.Run(def.Name, func(t *testing.T) {
			assert.NoError(t, def.Validate())
		})
	}
}

func TestUserOnboardingShape(t *testing.T) {
	def := UserOnboarding()
	require.Len(t, def.Steps, 3)
	assert.Equal(t, "CreateUser", def.Steps[0].Name)
	assert.Equal(t, "OpenAccount", def.Steps[1].Name)
	assert.Equal(t, "SendNotification", def.Steps[2].Name)

	assert.True(t, def.Steps[0].HasCompensation())
	assert.True(t, def.Steps[1].HasCompensation())
	assert.False(t, def.Steps[2].HasCompensation(), "notifications cannot be unsent")
}

func TestPaymentProcessingShape(t *testing.T) {
	def := PaymentProcessing()
	require.Len(t, def.Steps, 3)
	assert.False(t, def.Steps[0].HasCompensation())
	assert.True(t, def.Steps[1].HasCompensation())
	assert.False(t, def.Steps[2].HasCompensation())
}

func TestRegisterAll(t *testing.T) {
	registry := saga.NewRegistry()
	require.NoError(t, RegisterAll(registry))

	defs := registry.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "payment-processing", defs[0].Name)
	assert.Equal(t, "user-onboarding", defs[1].Name)

	// Registering twice is a configuration error.
	assert.Error(t, RegisterAll(registry))
}
