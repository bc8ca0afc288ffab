/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"

	"github.com/google/go-dap"
)

// ReverseRequestNotSupportedMessage is the message of the error response sent for reverse
// requests no handler accepted.
const ReverseRequestNotSupportedMessage = "reverse request not supported"

// ReverseRequestHandler handles a request sent by the debug adapter to the client.
// It returns:
//   - a response to answer the request; the session fills in the sequence numbers,
//     the message type and the command
//   - nil and an error to answer with an error response carrying the error text
//   - nil and nil if it does not handle the request
//
// Handlers run on their own goroutine, so they may issue requests on the same session.
// The context is cancelled when the session stops.
type ReverseRequestHandler func(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error)

// ComposeReverseRequestHandlers combines multiple handlers into a single handler.
// Handlers are called in order; the first one that returns a response or an error wins.
func ComposeReverseRequestHandlers(handlers ...ReverseRequestHandler) ReverseRequestHandler {
	return func(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
		for _, h := range handlers {
			if h == nil {
				continue
			}

			resp, handlerErr := h(ctx, req)
			if resp != nil || handlerErr != nil {
				return resp, handlerErr
			}
		}

		return nil, nil
	}
}

// TerminalLauncher starts the process described by a runInTerminal request.
// It returns the ID of the launched process and, if a shell was used, the ID of the shell process.
type TerminalLauncher func(ctx context.Context, args dap.RunInTerminalRequestArguments) (processID int, shellProcessID int, err error)

// RunInTerminalHandler returns a handler for runInTerminal reverse requests.
// Other reverse requests are left to the next handler.
func RunInTerminalHandler(launch TerminalLauncher) ReverseRequestHandler {
	return func(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
		ritReq, ok := req.(*dap.RunInTerminalRequest)
		if !ok {
			return nil, nil
		}

		processID, shellProcessID, launchErr := launch(ctx, ritReq.Arguments)
		if launchErr != nil {
			return nil, launchErr
		}

		return &dap.RunInTerminalResponse{
			Response: newResponse(ritReq.GetRequest(), true, ""),
			Body: dap.RunInTerminalResponseBody{
				ProcessId:      processID,
				ShellProcessId: shellProcessID,
			},
		}, nil
	}
}

// newResponse returns the envelope of a response to req. The sequence number is assigned when it is sent.
func newResponse(req *dap.Request, success bool, message string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: typeResponse},
		RequestSeq:      req.Seq,
		Command:         req.Command,
		Success:         success,
		Message:         message,
	}
}

// newErrorResponse returns an error response to req carrying message.
func newErrorResponse(req *dap.Request, message string) *dap.ErrorResponse {
	return &dap.ErrorResponse{
		Response: newResponse(req, false, message),
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{
				Format:   message,
				ShowUser: false,
			},
		},
	}
}

// rejectReverseRequest is the answer to a reverse request no handler accepted.
func rejectReverseRequest(req *dap.Request) *dap.ErrorResponse {
	return newErrorResponse(req, ReverseRequestNotSupportedMessage)
}
