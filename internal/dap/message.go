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

// Protocol message types.
const (
	typeRequest  = "request"
	typeResponse = "response"
	typeEvent    = "event"
)

// MessageKind classifies a dispatched message.
type MessageKind int

const (
	// KindResponse is a response to a request sent by this client.
	KindResponse MessageKind = iota
	// KindEvent is an unsolicited notification from the adapter.
	KindEvent
	// KindReverseRequest is a request sent by the adapter to this client.
	KindReverseRequest
)

// String returns a human-readable representation of the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindReverseRequest:
		return "reverse request"
	default:
		return "unknown"
	}
}

// RawRequest is a request whose arguments are not bound to a registered shape.
// It is used for adapter-specific commands in both directions.
type RawRequest struct {
	dap.Request

	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// RawResponse is a successful response to a command the registry does not know.
// The body is delivered undecoded.
type RawResponse struct {
	dap.Response

	Body json.RawMessage `json:"body,omitempty"`
}

// RawEvent is an event the registry does not know, e.g. a custom adapter event.
// The body is delivered undecoded.
type RawEvent struct {
	dap.Event

	Body json.RawMessage `json:"body,omitempty"`
}

var (
	_ dap.RequestMessage  = (*RawRequest)(nil)
	_ dap.ResponseMessage = (*RawResponse)(nil)
	_ dap.EventMessage    = (*RawEvent)(nil)
)

// newRequest returns the envelope of a client request for the given command.
// The sequence number is assigned when the request is sent.
func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: typeRequest},
		Command:         command,
	}
}

// NewRawRequest creates a request for an arbitrary command. Arguments may be nil,
// a json.RawMessage, or any value that marshals to a JSON object.
func NewRawRequest(command string, arguments any) (*RawRequest, error) {
	req := &RawRequest{Request: newRequest(command)}

	switch args := arguments.(type) {
	case nil:
	case json.RawMessage:
		req.Arguments = args
	default:
		encoded, marshalErr := json.Marshal(args)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal arguments for %q: %w", command, marshalErr)
		}
		req.Arguments = encoded
	}

	return req, nil
}
