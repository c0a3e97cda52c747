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
	"errors"
	"fmt"
)

// predefined error codes
const (
	ErrCodeUnknownSaga          = "UNKNOWN_SAGA"
	ErrCodeDuplicateDefinition  = "DUPLICATE_DEFINITION"
	ErrCodeSagaNotFound         = "SAGA_NOT_FOUND"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeInvalidDefinition    = "INVALID_DEFINITION"
	ErrCodeStorageError         = "STORAGE_ERROR"
	ErrCodePublishFailed        = "PUBLISH_FAILED"
	ErrCodeCompensationFailed   = "COMPENSATION_FAILED"
	ErrCodeConfigurationInvalid = "CONFIGURATION_INVALID"
)

// Error is the common error type of the saga subsystem. It carries a stable
// code for programmatic handling plus an optional wrapped cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error with the given code and message wrapping cause.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewUnknownSagaError reports a saga name that is not registered.
func NewUnknownSagaError(sagaName string) *Error {
	return NewError(ErrCodeUnknownSaga, fmt.Sprintf("saga definition %q is not registered", sagaName))
}

// NewDuplicateDefinitionError reports a second registration of a saga name.
func NewDuplicateDefinitionError(sagaName string) *Error {
	return NewError(ErrCodeDuplicateDefinition, fmt.Sprintf("saga definition %q is already registered", sagaName))
}

// NewSagaNotFoundError reports a saga ID that resolves to no instance.
func NewSagaNotFoundError(sagaID string) *Error {
	return NewError(ErrCodeSagaNotFound, fmt.Sprintf("saga instance %q not found", sagaID))
}

// NewInvalidStateError reports a transition that the current status forbids.
func NewInvalidStateError(sagaID string, current Status, action string) *Error {
	return NewError(ErrCodeInvalidState, fmt.Sprintf("saga %q is %s; cannot %s", sagaID, current, action))
}

// NewStorageError wraps a state-store failure.
func NewStorageError(operation string, cause error) *Error {
	return WrapError(ErrCodeStorageError, fmt.Sprintf("storage operation %s failed", operation), cause)
}

// NewPublishError wraps a broker publish failure.
func NewPublishError(channel string, cause error) *Error {
	return WrapError(ErrCodePublishFailed, fmt.Sprintf("publish to channel %q failed", channel), cause)
}

// hasCode reports whether err carries the given saga error code.
func hasCode(err error, code string) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsUnknownSaga reports whether err is an unknown-definition error.
func IsUnknownSaga(err error) bool {
	return hasCode(err, ErrCodeUnknownSaga)
}

// IsDuplicateDefinition reports whether err is a duplicate-registration error.
func IsDuplicateDefinition(err error) bool {
	return hasCode(err, ErrCodeDuplicateDefinition)
}

// IsSagaNotFound reports whether err is a missing-instance error.
func IsSagaNotFound(err error) bool {
	return hasCode(err, ErrCodeSagaNotFound)
}

// IsInvalidState reports whether err is a forbidden-transition error.
func IsInvalidState(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}
