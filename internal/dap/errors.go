/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

var (
	// ErrFraming is matched by every FramingError.
	ErrFraming = errors.New("DAP framing error")

	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("DAP payload decode error")

	// ErrUnknownRequestSeq is matched by every UnknownRequestSeqError.
	ErrUnknownRequestSeq = errors.New("response references an unknown request")

	// ErrCommandMismatch is matched by every CommandMismatchError.
	ErrCommandMismatch = errors.New("response command does not match request command")

	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("DAP transport failure")

	// ErrSessionClosed is returned to callers whose requests can no longer be answered
	// because the session stopped.
	ErrSessionClosed = errors.New("DAP session closed")

	// ErrSessionStarted is returned when Start is called on a session that is already running.
	ErrSessionStarted = errors.New("DAP session already started")

	// ErrSessionStopped is returned when Start is called on a stopped session.
	// A stopped session cannot be restarted; create a new one instead.
	ErrSessionStopped = errors.New("DAP session stopped")

	// ErrDuplicateSeq is returned when a sequence number is tracked twice.
	ErrDuplicateSeq = errors.New("sequence number is already tracked")

	// ErrChannelClosed is returned by channel operations after Close.
	ErrChannelClosed = errors.New("channel is closed")
)

// FramingError reports a malformed wire frame: a bad header, an unexpected header key,
// or a body that is not JSON. It is fatal to the session.
type FramingError struct {
	Reason string
	Err    error
}

func newFramingError(reason string, err error) *FramingError {
	return &FramingError{Reason: reason, Err: err}
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrFraming.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrFraming.Error(), e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// DecodeError reports a payload that could not be decoded into the shape registered
// for its command or event name. It is fatal to the session.
type DecodeError struct {
	// Kind is "response", "event" or "request".
	Kind string
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// UnknownRequestSeqError reports a response whose request_seq matches no pending request.
// The session keeps running, but the error is always surfaced.
type UnknownRequestSeqError struct {
	RequestSeq int
	Command    string
}

func (e *UnknownRequestSeqError) Error() string {
	return fmt.Sprintf("%s: request_seq=%d command=%q", ErrUnknownRequestSeq.Error(), e.RequestSeq, e.Command)
}

func (e *UnknownRequestSeqError) Is(target error) bool { return target == ErrUnknownRequestSeq }

// CommandMismatchError reports a response that answers a different command than
// the request it references. It is fatal to the session.
type CommandMismatchError struct {
	RequestSeq int
	Expected   string
	Actual     string
}

func (e *CommandMismatchError) Error() string {
	return fmt.Sprintf("%s: request_seq=%d expected %q, got %q", ErrCommandMismatch.Error(), e.RequestSeq, e.Expected, e.Actual)
}

func (e *CommandMismatchError) Is(target error) bool { return target == ErrCommandMismatch }

// TransportError wraps a read or write failure of the underlying channel.
type TransportError struct {
	// Op is "read" or "write".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport.Error(), e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// AdapterError is the failure value of a request the adapter answered with success=false.
// It only affects the originating request.
type AdapterError struct {
	RequestSeq int
	Command    string

	// Message is the short failure reason sent by the adapter (e.g. "cancelled", "notStopped").
	Message string

	// Body is the structured error, if the adapter provided one.
	Body *dap.ErrorMessage
}

func (e *AdapterError) Error() string {
	detail := e.Message
	if e.Body != nil && e.Body.Format != "" {
		formatted := formatErrorMessage(e.Body)
		if detail == "" {
			detail = formatted
		} else if formatted != detail {
			detail = detail + ": " + formatted
		}
	}
	if detail == "" {
		detail = "unknown error"
	}
	return fmt.Sprintf("%s request failed: %s", e.Command, detail)
}

// formatErrorMessage substitutes {name} placeholders in the format string with their variable values.
func formatErrorMessage(msg *dap.ErrorMessage) string {
	if len(msg.Variables) == 0 {
		return msg.Format
	}

	pairs := make([]string, 0, 2*len(msg.Variables))
	for name, value := range msg.Variables {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(msg.Format)
}

// IsSessionFatal returns true if the error stops the session that observed it.
// Framing, decode, command mismatch and transport errors are fatal;
// unknown request sequence numbers and adapter errors are not.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrCommandMismatch) ||
		errors.Is(err, ErrTransport)
}

// IsAdapterError returns true if the error is (or wraps) an AdapterError.
func IsAdapterError(err error) bool {
	var adapterErr *AdapterError
	return errors.As(err, &adapterErr)
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context.Canceled or context.DeadlineExceeded and the
// context is already done, the error is logged at debug level and nil is returned.
// Otherwise, the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.V(1).Info("Filtering redundant context error", "error", err)
		return nil
	}

	return err
}
