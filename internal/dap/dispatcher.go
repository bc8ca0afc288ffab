/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
)

// Result is the outcome of dispatching one frame.
type Result struct {
	Kind MessageKind

	// Message is the decoded message: a registered go-dap type, or a Raw* type for
	// names the registry does not know.
	Message dap.Message

	// Pending is the request a response resolved. Nil for events and reverse requests.
	Pending *PendingRequest

	// Err is an *AdapterError if the response reports success=false.
	Err error
}

// dispatcher classifies decoded frames and turns them into typed results.
type dispatcher struct {
	registry *Registry
	tracker  *requestTracker
}

func newDispatcher(registry *Registry, tracker *requestTracker) *dispatcher {
	return &dispatcher{registry: registry, tracker: tracker}
}

// Dispatch routes a frame by its message type.
// The returned error is an UnknownRequestSeqError (not fatal), or a fatal
// FramingError, DecodeError or CommandMismatchError. For a command mismatch the
// result still carries the resolved pending request so its caller can be notified.
func (d *dispatcher) Dispatch(frame Frame) (Result, error) {
	switch frame.Type {
	case typeEvent:
		return d.dispatchEvent(frame)
	case typeResponse:
		return d.dispatchResponse(frame)
	case typeRequest:
		return d.dispatchReverseRequest(frame)
	case "":
		return Result{}, newFramingError(fmt.Sprintf("message seq=%d has no type", frame.Seq), nil)
	default:
		return Result{}, newFramingError(fmt.Sprintf("message seq=%d has unknown type %q", frame.Seq, frame.Type), nil)
	}
}

func (d *dispatcher) dispatchEvent(frame Frame) (Result, error) {
	if frame.Event == "" {
		return Result{}, newFramingError(fmt.Sprintf("event seq=%d has no event name", frame.Seq), nil)
	}

	event, found, decodeErr := d.registry.DecodeEvent(frame.Event, frame.Raw)
	if decodeErr != nil {
		return Result{}, decodeErr
	}
	if found {
		return Result{Kind: KindEvent, Message: event}, nil
	}

	raw := &RawEvent{}
	if unmarshalErr := json.Unmarshal(frame.Raw, raw); unmarshalErr != nil {
		return Result{}, &DecodeError{Kind: typeEvent, Name: frame.Event, Err: unmarshalErr}
	}
	return Result{Kind: KindEvent, Message: raw}, nil
}

func (d *dispatcher) dispatchResponse(frame Frame) (Result, error) {
	pending, resolveErr := d.tracker.Resolve(frame.RequestSeq, frame.Command)
	if resolveErr != nil {
		return Result{}, resolveErr
	}

	result := Result{Kind: KindResponse, Pending: pending}

	if pending.Command != frame.Command {
		return result, &CommandMismatchError{
			RequestSeq: frame.RequestSeq,
			Expected:   pending.Command,
			Actual:     frame.Command,
		}
	}

	if !frame.Success {
		result.Message, result.Err = decodeErrorResponse(frame)
		return result, nil
	}

	resp, found, decodeErr := d.registry.DecodeResponse(frame.Command, frame.Raw)
	if decodeErr != nil {
		return result, decodeErr
	}
	if found {
		result.Message = resp
		return result, nil
	}

	raw := &RawResponse{}
	if unmarshalErr := json.Unmarshal(frame.Raw, raw); unmarshalErr != nil {
		return result, &DecodeError{Kind: typeResponse, Name: frame.Command, Err: unmarshalErr}
	}
	result.Message = raw
	return result, nil
}

// decodeErrorResponse decodes a success=false response. Adapters do not always send a
// structured error body; in that case the response is kept raw and the error carries
// only the message.
func decodeErrorResponse(frame Frame) (dap.Message, *AdapterError) {
	adapterErr := &AdapterError{
		RequestSeq: frame.RequestSeq,
		Command:    frame.Command,
		Message:    frame.Message,
	}

	errResp := &dap.ErrorResponse{}
	if unmarshalErr := json.Unmarshal(frame.Raw, errResp); unmarshalErr == nil {
		adapterErr.Body = errResp.Body.Error
		return errResp, adapterErr
	}

	// The envelope fields were already validated when the frame was decoded,
	// and the body is valid JSON, so this cannot fail.
	raw := &RawResponse{}
	_ = json.Unmarshal(frame.Raw, raw)
	return raw, adapterErr
}

func (d *dispatcher) dispatchReverseRequest(frame Frame) (Result, error) {
	if frame.Command == "" {
		return Result{}, newFramingError(fmt.Sprintf("request seq=%d has no command", frame.Seq), nil)
	}

	req, found, decodeErr := d.registry.DecodeReverseRequest(frame.Command, frame.Raw)
	if decodeErr != nil {
		return Result{}, decodeErr
	}
	if found {
		return Result{Kind: KindReverseRequest, Message: req}, nil
	}

	raw := &RawRequest{}
	if unmarshalErr := json.Unmarshal(frame.Raw, raw); unmarshalErr != nil {
		return Result{}, &DecodeError{Kind: typeRequest, Name: frame.Command, Err: unmarshalErr}
	}
	return Result{Kind: KindReverseRequest, Message: raw}, nil
}
