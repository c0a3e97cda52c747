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

// Package flows carries the saga definitions shipped with the orchestrator.
// Each flow names its steps, the command channel each step publishes to, the
// event types its collaborator replies with, and the compensation wiring for
// steps that need undoing.
package flows

import (
	"time"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// UserOnboarding provisions a new user across three collaborating services:
// the user service creates the account record, the ledger service opens the
// account, and the notification service sends the welcome message. Sending a
// notification has no undo, so the last step carries no compensation.
func UserOnboarding() *saga.Definition {
	return &saga.Definition{
		Name: "user-onboarding",
		Steps: []saga.StepDefinition{
			{
				Name:                         "CreateUser",
				CommandChannel:               "user.create",
				SuccessEventType:             "user.created",
				FailureEventType:             "user.create.failed",
				CompensationChannel:          "user.delete",
				CompensationSuccessEventType: "user.deleted",
				CompensationFailureEventType: "user.delete.failed",
				Timeout:                      30 * time.Second,
			},
			{
				Name:                         "OpenAccount",
				CommandChannel:               "account.open",
				SuccessEventType:             "account.opened",
				FailureEventType:             "account.open.failed",
				CompensationChannel:          "account.close",
				CompensationSuccessEventType: "account.closed",
				CompensationFailureEventType: "account.close.failed",
				Timeout:                      30 * time.Second,
			},
			{
				Name:             "SendNotification",
				CommandChannel:   "notification.send",
				SuccessEventType: "notification.sent",
				FailureEventType: "notification.send.failed",
				Timeout:          15 * time.Second,
			},
		},
	}
}

// PaymentProcessing settles a payment in three steps. Validation holds no
// resources and notification is fire-and-forget, so only the settlement step
// is compensable.
func PaymentProcessing() *saga.Definition {
	return &saga.Definition{
		Name: "payment-processing",
		Steps: []saga.StepDefinition{
			{
				Name:             "ValidatePayment",
				CommandChannel:   "payment.validate",
				SuccessEventType: "payment.validated",
				FailureEventType: "payment.validate.failed",
				Timeout:          10 * time.Second,
			},
			{
				Name:                         "SettlePayment",
				CommandChannel:               "payment.settle",
				SuccessEventType:             "payment.settled",
				FailureEventType:             "payment.settle.failed",
				CompensationChannel:          "payment.refund",
				CompensationSuccessEventType: "payment.refunded",
				CompensationFailureEventType: "payment.refund.failed",
				Timeout:                      60 * time.Second,
			},
			{
				Name:             "NotifyPayment",
				CommandChannel:   "payment.notify",
				SuccessEventType: "payment.notified",
				FailureEventType: "payment.notify.failed",
				Timeout:          15 * time.Second,
			},
		},
	}
}

// RegisterAll registers every built-in flow.
func RegisterAll(registry *saga.Registry) error {
	for _, def := range []*saga.Definition{UserOnboarding(), PaymentProcessing()} {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
