/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-dap"
)

// Client provides typed helper methods for common DAP requests on top of a session.
// Failed requests return an *AdapterError.
type Client struct {
	session *Session
}

// NewClient creates a client for the given session. The session must be started
// for requests to be answered.
func NewClient(session *Session) *Client {
	return &Client{session: session}
}

// Session returns the session the client sends requests on.
func (c *Client) Session() *Session {
	return c.session
}

// request sends req and checks that the response has the expected type.
func request[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	var zero T

	resp, reqErr := c.session.Request(ctx, req)
	if reqErr != nil {
		return zero, reqErr
	}

	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type for %s request: %T", req.GetRequest().Command, resp)
	}

	return typed, nil
}

// rawArguments converts launch or attach arguments into raw JSON.
func rawArguments(command string, args any) (json.RawMessage, error) {
	switch a := args.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return a, nil
	default:
		encoded, marshalErr := json.Marshal(a)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal %s arguments: %w", command, marshalErr)
		}
		return encoded, nil
	}
}

// DefaultInitializeArguments returns initialize arguments describing this client.
func DefaultInitializeArguments(adapterID string) dap.InitializeRequestArguments {
	return dap.InitializeRequestArguments{
		ClientID:                     "dap-client",
		ClientName:                   "DAP Client",
		AdapterID:                    adapterID,
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsRunInTerminalRequest: true,
	}
}

// Initialize sends an initialize request and returns the adapter capabilities.
func (c *Client) Initialize(ctx context.Context, args dap.InitializeRequestArguments) (*dap.Capabilities, error) {
	req := &dap.InitializeRequest{
		Request:   newRequest("initialize"),
		Arguments: args,
	}

	resp, reqErr := request[*dap.InitializeResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// Launch sends a launch request. The arguments are adapter-specific; args may be a
// json.RawMessage or any value that marshals to a JSON object.
func (c *Client) Launch(ctx context.Context, args any) error {
	rawArgs, argsErr := rawArguments("launch", args)
	if argsErr != nil {
		return argsErr
	}

	req := &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: rawArgs,
	}

	_, reqErr := request[*dap.LaunchResponse](ctx, c, req)
	return reqErr
}

// Attach sends an attach request. The arguments are adapter-specific, as for Launch.
func (c *Client) Attach(ctx context.Context, args any) error {
	rawArgs, argsErr := rawArguments("attach", args)
	if argsErr != nil {
		return argsErr
	}

	req := &dap.AttachRequest{
		Request:   newRequest("attach"),
		Arguments: rawArgs,
	}

	_, reqErr := request[*dap.AttachResponse](ctx, c, req)
	return reqErr
}

// ConfigurationDone signals that configuration is complete.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req := &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	}

	_, reqErr := request[*dap.ConfigurationDoneResponse](ctx, c, req)
	return reqErr
}

// SetBreakpoints replaces the breakpoints in the given file with breakpoints at the specified lines.
func (c *Client) SetBreakpoints(ctx context.Context, file string, lines []int) ([]dap.Breakpoint, error) {
	breakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		breakpoints[i] = dap.SourceBreakpoint{Line: line}
	}

	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source: dap.Source{
				Path: file,
			},
			Breakpoints: breakpoints,
		},
	}

	resp, reqErr := request[*dap.SetBreakpointsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Breakpoints, nil
}

// SetFunctionBreakpoints replaces all function breakpoints.
func (c *Client) SetFunctionBreakpoints(ctx context.Context, names []string) ([]dap.Breakpoint, error) {
	breakpoints := make([]dap.FunctionBreakpoint, len(names))
	for i, name := range names {
		breakpoints[i] = dap.FunctionBreakpoint{Name: name}
	}

	req := &dap.SetFunctionBreakpointsRequest{
		Request: newRequest("setFunctionBreakpoints"),
		Arguments: dap.SetFunctionBreakpointsArguments{
			Breakpoints: breakpoints,
		},
	}

	resp, reqErr := request[*dap.SetFunctionBreakpointsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Breakpoints, nil
}

// SetExceptionBreakpoints configures which exceptions the debuggee stops on.
func (c *Client) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	if filters == nil {
		// The filters property is required.
		filters = []string{}
	}

	req := &dap.SetExceptionBreakpointsRequest{
		Request: newRequest("setExceptionBreakpoints"),
		Arguments: dap.SetExceptionBreakpointsArguments{
			Filters: filters,
		},
	}

	_, reqErr := request[*dap.SetExceptionBreakpointsResponse](ctx, c, req)
	return reqErr
}

// Continue resumes execution of the given thread (or of all threads, depending on the adapter).
// It returns true if all threads were resumed.
func (c *Client) Continue(ctx context.Context, threadID int) (bool, error) {
	req := &dap.ContinueRequest{
		Request: newRequest("continue"),
		Arguments: dap.ContinueArguments{
			ThreadId: threadID,
		},
	}

	resp, reqErr := request[*dap.ContinueResponse](ctx, c, req)
	if reqErr != nil {
		return false, reqErr
	}
	return resp.Body.AllThreadsContinued, nil
}

// Next steps over the current statement of the given thread.
func (c *Client) Next(ctx context.Context, threadID int) error {
	req := &dap.NextRequest{
		Request: newRequest("next"),
		Arguments: dap.NextArguments{
			ThreadId: threadID,
		},
	}

	_, reqErr := request[*dap.NextResponse](ctx, c, req)
	return reqErr
}

// StepIn steps into the function called by the current statement of the given thread.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	req := &dap.StepInRequest{
		Request: newRequest("stepIn"),
		Arguments: dap.StepInArguments{
			ThreadId: threadID,
		},
	}

	_, reqErr := request[*dap.StepInResponse](ctx, c, req)
	return reqErr
}

// StepOut runs the given thread until the current function returns.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	req := &dap.StepOutRequest{
		Request: newRequest("stepOut"),
		Arguments: dap.StepOutArguments{
			ThreadId: threadID,
		},
	}

	_, reqErr := request[*dap.StepOutResponse](ctx, c, req)
	return reqErr
}

// Pause suspends the given thread.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	req := &dap.PauseRequest{
		Request: newRequest("pause"),
		Arguments: dap.PauseArguments{
			ThreadId: threadID,
		},
	}

	_, reqErr := request[*dap.PauseResponse](ctx, c, req)
	return reqErr
}

// Threads returns the threads of the debuggee.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	req := &dap.ThreadsRequest{
		Request: newRequest("threads"),
	}

	resp, reqErr := request[*dap.ThreadsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Threads, nil
}

// StackTrace returns up to levels stack frames of the given thread. Zero levels means all frames.
func (c *Client) StackTrace(ctx context.Context, threadID int, startFrame int, levels int) (*dap.StackTraceResponseBody, error) {
	req := &dap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: startFrame,
			Levels:     levels,
		},
	}

	resp, reqErr := request[*dap.StackTraceResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// Scopes returns the variable scopes of a stack frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	req := &dap.ScopesRequest{
		Request: newRequest("scopes"),
		Arguments: dap.ScopesArguments{
			FrameId: frameID,
		},
	}

	resp, reqErr := request[*dap.ScopesResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Scopes, nil
}

// Variables returns the child variables of the given variables reference.
func (c *Client) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	req := &dap.VariablesRequest{
		Request: newRequest("variables"),
		Arguments: dap.VariablesArguments{
			VariablesReference: variablesReference,
		},
	}

	resp, reqErr := request[*dap.VariablesResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates an expression in the context of a stack frame.
// evalContext is the DAP evaluation context, e.g. "watch", "repl" or "hover".
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	req := &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	}

	resp, reqErr := request[*dap.EvaluateResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// Cancel asks the adapter to cancel an outstanding request. The cancelled request
// still gets a response, usually with success=false and message "cancelled".
func (c *Client) Cancel(ctx context.Context, call *Call) error {
	req := &dap.CancelRequest{
		Request: newRequest("cancel"),
		Arguments: &dap.CancelArguments{
			RequestId: call.Seq,
		},
	}

	_, reqErr := request[*dap.CancelResponse](ctx, c, req)
	return reqErr
}

// Terminate asks the adapter to terminate the debuggee gracefully.
func (c *Client) Terminate(ctx context.Context, restart bool) error {
	req := &dap.TerminateRequest{
		Request: newRequest("terminate"),
		Arguments: &dap.TerminateArguments{
			Restart: restart,
		},
	}

	_, reqErr := request[*dap.TerminateResponse](ctx, c, req)
	return reqErr
}

// Disconnect sends a disconnect request to end the debug session.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{
		Request: newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	}

	_, reqErr := request[*dap.DisconnectResponse](ctx, c, req)
	return reqErr
}

// Do sends a request for an arbitrary command and returns its response: the registered
// response type, or a *RawResponse if the command is not in the registry.
func (c *Client) Do(ctx context.Context, command string, args any) (dap.Message, error) {
	req, reqErr := NewRawRequest(command, args)
	if reqErr != nil {
		return nil, reqErr
	}
	return c.session.Request(ctx, req)
}

// nextEvent receives the next event, failing if the session stopped.
func (c *Client) nextEvent(ctx context.Context) (dap.EventMessage, error) {
	for {
		select {
		case msg, ok := <-c.session.Events():
			if !ok {
				if sessionErr := c.session.Err(); sessionErr != nil {
					return nil, errors.Join(ErrSessionClosed, sessionErr)
				}
				return nil, ErrSessionClosed
			}
			if event, isEvent := msg.(dap.EventMessage); isEvent {
				return event, nil
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitForEvent waits for an event with the given name. Events received before it are discarded.
func (c *Client) WaitForEvent(ctx context.Context, name string) (dap.EventMessage, error) {
	for {
		event, eventErr := c.nextEvent(ctx)
		if eventErr != nil {
			return nil, fmt.Errorf("failed waiting for %q event: %w", name, eventErr)
		}
		if event.GetEvent().Event == name {
			return event, nil
		}
	}
}

// CollectEventsUntil returns all events received up to and including the first event with the given name.
func (c *Client) CollectEventsUntil(ctx context.Context, name string) ([]dap.EventMessage, error) {
	var events []dap.EventMessage
	for {
		event, eventErr := c.nextEvent(ctx)
		if eventErr != nil {
			return events, fmt.Errorf("failed waiting for %q event: %w", name, eventErr)
		}
		events = append(events, event)
		if event.GetEvent().Event == name {
			return events, nil
		}
	}
}

// WaitForStoppedEvent waits for a stopped event.
func (c *Client) WaitForStoppedEvent(ctx context.Context) (*dap.StoppedEvent, error) {
	msg, waitErr := c.WaitForEvent(ctx, "stopped")
	if waitErr != nil {
		return nil, waitErr
	}

	stoppedEvent, ok := msg.(*dap.StoppedEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected event type: %T", msg)
	}

	return stoppedEvent, nil
}

// WaitForTerminatedEvent waits for a terminated event.
func (c *Client) WaitForTerminatedEvent(ctx context.Context) error {
	_, waitErr := c.WaitForEvent(ctx, "terminated")
	return waitErr
}
