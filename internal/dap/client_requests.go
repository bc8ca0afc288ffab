/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"

	"github.com/google/go-dap"
)

// Helpers for the less common requests. Adapters announce most of them through capabilities
// (e.g. SupportsGotoTargetsRequest); calling one the adapter does not support usually
// fails with an *AdapterError.

// Restart restarts the debug session. args are the new launch or attach arguments, or nil.
func (c *Client) Restart(ctx context.Context, args any) error {
	raw, argsErr := rawArguments("restart", args)
	if argsErr != nil {
		return argsErr
	}

	req := &dap.RestartRequest{
		Request:   newRequest("restart"),
		Arguments: raw,
	}

	_, reqErr := request[*dap.RestartResponse](ctx, c, req)
	return reqErr
}

// RestartFrame restarts execution of the given stack frame.
func (c *Client) RestartFrame(ctx context.Context, frameID int) error {
	req := &dap.RestartFrameRequest{
		Request:   newRequest("restartFrame"),
		Arguments: dap.RestartFrameArguments{FrameId: frameID},
	}

	_, reqErr := request[*dap.RestartFrameResponse](ctx, c, req)
	return reqErr
}

// StepBack steps the given thread backwards by one statement.
func (c *Client) StepBack(ctx context.Context, threadID int) error {
	req := &dap.StepBackRequest{
		Request:   newRequest("stepBack"),
		Arguments: dap.StepBackArguments{ThreadId: threadID},
	}

	_, reqErr := request[*dap.StepBackResponse](ctx, c, req)
	return reqErr
}

// ReverseContinue runs the given thread backwards.
func (c *Client) ReverseContinue(ctx context.Context, threadID int) error {
	req := &dap.ReverseContinueRequest{
		Request:   newRequest("reverseContinue"),
		Arguments: dap.ReverseContinueArguments{ThreadId: threadID},
	}

	_, reqErr := request[*dap.ReverseContinueResponse](ctx, c, req)
	return reqErr
}

// GotoTargets returns the locations in source that execution can jump to.
func (c *Client) GotoTargets(ctx context.Context, source dap.Source, line int) ([]dap.GotoTarget, error) {
	req := &dap.GotoTargetsRequest{
		Request:   newRequest("gotoTargets"),
		Arguments: dap.GotoTargetsArguments{Source: source, Line: line},
	}

	resp, reqErr := request[*dap.GotoTargetsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Targets, nil
}

// Goto makes the given thread continue at a target returned by GotoTargets.
func (c *Client) Goto(ctx context.Context, threadID int, targetID int) error {
	req := &dap.GotoRequest{
		Request:   newRequest("goto"),
		Arguments: dap.GotoArguments{ThreadId: threadID, TargetId: targetID},
	}

	_, reqErr := request[*dap.GotoResponse](ctx, c, req)
	return reqErr
}

// StepInTargets returns the functions a stepIn from the given frame could enter.
func (c *Client) StepInTargets(ctx context.Context, frameID int) ([]dap.StepInTarget, error) {
	req := &dap.StepInTargetsRequest{
		Request:   newRequest("stepInTargets"),
		Arguments: dap.StepInTargetsArguments{FrameId: frameID},
	}

	resp, reqErr := request[*dap.StepInTargetsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Targets, nil
}

// TerminateThreads terminates the given threads.
func (c *Client) TerminateThreads(ctx context.Context, threadIDs []int) error {
	req := &dap.TerminateThreadsRequest{
		Request:   newRequest("terminateThreads"),
		Arguments: dap.TerminateThreadsArguments{ThreadIds: threadIDs},
	}

	_, reqErr := request[*dap.TerminateThreadsResponse](ctx, c, req)
	return reqErr
}

// BreakpointLocations returns the possible breakpoint locations on a line of source.
func (c *Client) BreakpointLocations(ctx context.Context, source dap.Source, line int) ([]dap.BreakpointLocation, error) {
	req := &dap.BreakpointLocationsRequest{
		Request:   newRequest("breakpointLocations"),
		Arguments: &dap.BreakpointLocationsArguments{Source: source, Line: line},
	}

	resp, reqErr := request[*dap.BreakpointLocationsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Breakpoints, nil
}

// DataBreakpointInfo asks whether a data breakpoint can be set on the named variable.
func (c *Client) DataBreakpointInfo(ctx context.Context, variablesReference int, name string) (*dap.DataBreakpointInfoResponseBody, error) {
	req := &dap.DataBreakpointInfoRequest{
		Request:   newRequest("dataBreakpointInfo"),
		Arguments: dap.DataBreakpointInfoArguments{VariablesReference: variablesReference, Name: name},
	}

	resp, reqErr := request[*dap.DataBreakpointInfoResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// SetDataBreakpoints replaces all data breakpoints.
func (c *Client) SetDataBreakpoints(ctx context.Context, breakpoints []dap.DataBreakpoint) ([]dap.Breakpoint, error) {
	if breakpoints == nil {
		breakpoints = []dap.DataBreakpoint{}
	}
	req := &dap.SetDataBreakpointsRequest{
		Request:   newRequest("setDataBreakpoints"),
		Arguments: dap.SetDataBreakpointsArguments{Breakpoints: breakpoints},
	}

	resp, reqErr := request[*dap.SetDataBreakpointsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Breakpoints, nil
}

// SetInstructionBreakpoints replaces all instruction breakpoints.
func (c *Client) SetInstructionBreakpoints(ctx context.Context, breakpoints []dap.InstructionBreakpoint) ([]dap.Breakpoint, error) {
	if breakpoints == nil {
		breakpoints = []dap.InstructionBreakpoint{}
	}
	req := &dap.SetInstructionBreakpointsRequest{
		Request:   newRequest("setInstructionBreakpoints"),
		Arguments: dap.SetInstructionBreakpointsArguments{Breakpoints: breakpoints},
	}

	resp, reqErr := request[*dap.SetInstructionBreakpointsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Breakpoints, nil
}

// SetVariable assigns a new value to a variable in the given variables container.
func (c *Client) SetVariable(ctx context.Context, variablesReference int, name string, value string) (*dap.SetVariableResponseBody, error) {
	req := &dap.SetVariableRequest{
		Request: newRequest("setVariable"),
		Arguments: dap.SetVariableArguments{
			VariablesReference: variablesReference,
			Name:               name,
			Value:              value,
		},
	}

	resp, reqErr := request[*dap.SetVariableResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// SetExpression assigns a value to an assignable expression in the context of a stack frame.
func (c *Client) SetExpression(ctx context.Context, expression string, value string, frameID int) (*dap.SetExpressionResponseBody, error) {
	req := &dap.SetExpressionRequest{
		Request: newRequest("setExpression"),
		Arguments: dap.SetExpressionArguments{
			Expression: expression,
			Value:      value,
			FrameId:    frameID,
		},
	}

	resp, reqErr := request[*dap.SetExpressionResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// Source returns the content of a source, identified by its source reference.
func (c *Client) Source(ctx context.Context, source *dap.Source, sourceReference int) (*dap.SourceResponseBody, error) {
	req := &dap.SourceRequest{
		Request:   newRequest("source"),
		Arguments: dap.SourceArguments{Source: source, SourceReference: sourceReference},
	}

	resp, reqErr := request[*dap.SourceResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// LoadedSources returns all sources currently loaded by the debuggee.
func (c *Client) LoadedSources(ctx context.Context) ([]dap.Source, error) {
	req := &dap.LoadedSourcesRequest{
		Request: newRequest("loadedSources"),
	}

	resp, reqErr := request[*dap.LoadedSourcesResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Sources, nil
}

// Modules returns up to count modules starting at start. Zero count means all modules.
func (c *Client) Modules(ctx context.Context, start int, count int) (*dap.ModulesResponseBody, error) {
	req := &dap.ModulesRequest{
		Request:   newRequest("modules"),
		Arguments: dap.ModulesArguments{StartModule: start, ModuleCount: count},
	}

	resp, reqErr := request[*dap.ModulesResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// ExceptionInfo returns details about the exception that stopped the given thread.
func (c *Client) ExceptionInfo(ctx context.Context, threadID int) (*dap.ExceptionInfoResponseBody, error) {
	req := &dap.ExceptionInfoRequest{
		Request:   newRequest("exceptionInfo"),
		Arguments: dap.ExceptionInfoArguments{ThreadId: threadID},
	}

	resp, reqErr := request[*dap.ExceptionInfoResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// Completions returns completion proposals for text at the given column (1-based, in UTF-16 code units).
func (c *Client) Completions(ctx context.Context, frameID int, text string, column int) ([]dap.CompletionItem, error) {
	req := &dap.CompletionsRequest{
		Request:   newRequest("completions"),
		Arguments: dap.CompletionsArguments{FrameId: frameID, Text: text, Column: column},
	}

	resp, reqErr := request[*dap.CompletionsResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Targets, nil
}

// ReadMemory reads count bytes at memoryReference+offset. The data in the result is base64 encoded.
func (c *Client) ReadMemory(ctx context.Context, memoryReference string, offset int, count int) (*dap.ReadMemoryResponseBody, error) {
	req := &dap.ReadMemoryRequest{
		Request: newRequest("readMemory"),
		Arguments: dap.ReadMemoryArguments{
			MemoryReference: memoryReference,
			Offset:          offset,
			Count:           count,
		},
	}

	resp, reqErr := request[*dap.ReadMemoryResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// WriteMemory writes base64 encoded data at memoryReference+offset.
func (c *Client) WriteMemory(ctx context.Context, memoryReference string, offset int, data string) (*dap.WriteMemoryResponseBody, error) {
	req := &dap.WriteMemoryRequest{
		Request: newRequest("writeMemory"),
		Arguments: dap.WriteMemoryArguments{
			MemoryReference: memoryReference,
			Offset:          offset,
			Data:            data,
		},
	}

	resp, reqErr := request[*dap.WriteMemoryResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return &resp.Body, nil
}

// Disassemble disassembles count instructions starting at memoryReference.
func (c *Client) Disassemble(ctx context.Context, memoryReference string, instructionOffset int, count int) ([]dap.DisassembledInstruction, error) {
	req := &dap.DisassembleRequest{
		Request: newRequest("disassemble"),
		Arguments: dap.DisassembleArguments{
			MemoryReference:   memoryReference,
			InstructionOffset: instructionOffset,
			InstructionCount:  count,
			ResolveSymbols:    true,
		},
	}

	resp, reqErr := request[*dap.DisassembleResponse](ctx, c, req)
	if reqErr != nil {
		return nil, reqErr
	}
	return resp.Body.Instructions, nil
}
