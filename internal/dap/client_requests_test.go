/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extendedRequestsScript(t *testing.T) func(req dap.RequestMessage) []dap.Message {
	return func(req dap.RequestMessage) []dap.Message {
		switch r := req.(type) {
		case *dap.RestartRequest:
			assert.JSONEq(t, `{"noDebug":true}`, string(r.Arguments))
			return []dap.Message{&dap.RestartResponse{}}
		case *dap.RestartFrameRequest:
			assert.Equal(t, 7, r.Arguments.FrameId)
			return []dap.Message{&dap.RestartFrameResponse{}}
		case *dap.StepBackRequest:
			assert.Equal(t, 1, r.Arguments.ThreadId)
			return []dap.Message{&dap.StepBackResponse{}}
		case *dap.ReverseContinueRequest:
			assert.Equal(t, 1, r.Arguments.ThreadId)
			return []dap.Message{&dap.ReverseContinueResponse{}}
		case *dap.GotoTargetsRequest:
			assert.Equal(t, "/work/main.go", r.Arguments.Source.Path)
			assert.Equal(t, 30, r.Arguments.Line)
			return []dap.Message{&dap.GotoTargetsResponse{Body: dap.GotoTargetsResponseBody{Targets: []dap.GotoTarget{{Id: 3, Label: "main.go:30", Line: 30}}}}}
		case *dap.GotoRequest:
			assert.Equal(t, 3, r.Arguments.TargetId)
			return []dap.Message{&dap.GotoResponse{}}
		case *dap.StepInTargetsRequest:
			return []dap.Message{&dap.StepInTargetsResponse{Body: dap.StepInTargetsResponseBody{Targets: []dap.StepInTarget{{Id: 1, Label: "helper"}}}}}
		case *dap.TerminateThreadsRequest:
			assert.Equal(t, []int{2, 3}, r.Arguments.ThreadIds)
			return []dap.Message{&dap.TerminateThreadsResponse{}}
		case *dap.BreakpointLocationsRequest:
			return []dap.Message{&dap.BreakpointLocationsResponse{Body: dap.BreakpointLocationsResponseBody{Breakpoints: []dap.BreakpointLocation{{Line: 30}, {Line: 31}}}}}
		case *dap.DataBreakpointInfoRequest:
			assert.Equal(t, "counter", r.Arguments.Name)
			return []dap.Message{&dap.DataBreakpointInfoResponse{Body: dap.DataBreakpointInfoResponseBody{DataId: "counter@1", Description: "counter"}}}
		case *dap.SetDataBreakpointsRequest:
			assert.NotNil(t, r.Arguments.Breakpoints, "an empty list clears the breakpoints")
			return []dap.Message{&dap.SetDataBreakpointsResponse{Body: dap.SetDataBreakpointsResponseBody{Breakpoints: []dap.Breakpoint{}}}}
		case *dap.SetInstructionBreakpointsRequest:
			assert.Len(t, r.Arguments.Breakpoints, 1)
			return []dap.Message{&dap.SetInstructionBreakpointsResponse{Body: dap.SetInstructionBreakpointsResponseBody{Breakpoints: []dap.Breakpoint{{Verified: true}}}}}
		case *dap.SetVariableRequest:
			assert.Equal(t, "x", r.Arguments.Name)
			return []dap.Message{&dap.SetVariableResponse{Body: dap.SetVariableResponseBody{Value: r.Arguments.Value, Type: "int"}}}
		case *dap.SetExpressionRequest:
			return []dap.Message{&dap.SetExpressionResponse{Body: dap.SetExpressionResponseBody{Value: r.Arguments.Value}}}
		case *dap.SourceRequest:
			assert.Equal(t, 11, r.Arguments.SourceReference)
			return []dap.Message{&dap.SourceResponse{Body: dap.SourceResponseBody{Content: "package main", MimeType: "text/x-go"}}}
		case *dap.LoadedSourcesRequest:
			return []dap.Message{&dap.LoadedSourcesResponse{Body: dap.LoadedSourcesResponseBody{Sources: []dap.Source{{Path: "/work/main.go"}}}}}
		case *dap.ModulesRequest:
			return []dap.Message{&dap.ModulesResponse{Body: dap.ModulesResponseBody{Modules: []dap.Module{{Id: 1, Name: "main"}}, TotalModules: 1}}}
		case *dap.ExceptionInfoRequest:
			return []dap.Message{&dap.ExceptionInfoResponse{Body: dap.ExceptionInfoResponseBody{ExceptionId: "panic", BreakMode: "unhandled"}}}
		case *dap.CompletionsRequest:
			assert.Equal(t, "fm", r.Arguments.Text)
			return []dap.Message{&dap.CompletionsResponse{Body: dap.CompletionsResponseBody{Targets: []dap.CompletionItem{{Label: "fmt"}}}}}
		case *dap.ReadMemoryRequest:
			assert.Equal(t, 4, r.Arguments.Count)
			return []dap.Message{&dap.ReadMemoryResponse{Body: dap.ReadMemoryResponseBody{Address: "0x1000", Data: "AQIDBA=="}}}
		case *dap.WriteMemoryRequest:
			assert.Equal(t, "AQIDBA==", r.Arguments.Data)
			return []dap.Message{&dap.WriteMemoryResponse{Body: dap.WriteMemoryResponseBody{BytesWritten: 4}}}
		case *dap.DisassembleRequest:
			assert.Equal(t, 2, r.Arguments.InstructionCount)
			return []dap.Message{&dap.DisassembleResponse{Body: dap.DisassembleResponseBody{Instructions: []dap.DisassembledInstruction{
				{Address: "0x1000", Instruction: "nop"},
				{Address: "0x1001", Instruction: "ret"},
			}}}}
		default:
			return []dap.Message{&dap.ErrorResponse{Response: dap.Response{Message: "unsupported"}}}
		}
	}
}

func TestClientExtendedRequests(t *testing.T) {
	t.Parallel()

	forEachChannelVariant(t, func(t *testing.T, variant channelVariant) {
		ctx, session, adapter := startTestSession(t, variant, SessionConfig{})
		adapter.serve(extendedRequestsScript(t))
		client := NewClient(session)
		source := dap.Source{Path: "/work/main.go"}

		require.NoError(t, client.Restart(ctx, map[string]any{"noDebug": true}))
		require.NoError(t, client.RestartFrame(ctx, 7))
		require.NoError(t, client.StepBack(ctx, 1))
		require.NoError(t, client.ReverseContinue(ctx, 1))

		gotoTargets, gotoTargetsErr := client.GotoTargets(ctx, source, 30)
		require.NoError(t, gotoTargetsErr)
		require.Len(t, gotoTargets, 1)
		require.NoError(t, client.Goto(ctx, 1, gotoTargets[0].Id))

		stepInTargets, stepInErr := client.StepInTargets(ctx, 7)
		require.NoError(t, stepInErr)
		assert.Equal(t, "helper", stepInTargets[0].Label)

		require.NoError(t, client.TerminateThreads(ctx, []int{2, 3}))

		locations, locationsErr := client.BreakpointLocations(ctx, source, 30)
		require.NoError(t, locationsErr)
		assert.Len(t, locations, 2)

		info, infoErr := client.DataBreakpointInfo(ctx, 5, "counter")
		require.NoError(t, infoErr)
		assert.Equal(t, "counter@1", info.DataId)

		dataBreakpoints, dataErr := client.SetDataBreakpoints(ctx, nil)
		require.NoError(t, dataErr)
		assert.Empty(t, dataBreakpoints)

		instructionBreakpoints, instrErr := client.SetInstructionBreakpoints(ctx, []dap.InstructionBreakpoint{{InstructionReference: "0x1000"}})
		require.NoError(t, instrErr)
		require.Len(t, instructionBreakpoints, 1)
		assert.True(t, instructionBreakpoints[0].Verified)

		variable, setVarErr := client.SetVariable(ctx, 5, "x", "10")
		require.NoError(t, setVarErr)
		assert.Equal(t, "10", variable.Value)
		assert.Equal(t, "int", variable.Type)

		expression, setExprErr := client.SetExpression(ctx, "y", "20", 7)
		require.NoError(t, setExprErr)
		assert.Equal(t, "20", expression.Value)

		content, sourceErr := client.Source(ctx, nil, 11)
		require.NoError(t, sourceErr)
		assert.Equal(t, "package main", content.Content)

		sources, loadedErr := client.LoadedSources(ctx)
		require.NoError(t, loadedErr)
		assert.Equal(t, []dap.Source{source}, sources)

		modules, modulesErr := client.Modules(ctx, 0, 0)
		require.NoError(t, modulesErr)
		assert.Equal(t, 1, modules.TotalModules)

		exception, exceptionErr := client.ExceptionInfo(ctx, 1)
		require.NoError(t, exceptionErr)
		assert.Equal(t, "panic", exception.ExceptionId)

		completions, completionsErr := client.Completions(ctx, 7, "fm", 3)
		require.NoError(t, completionsErr)
		assert.Equal(t, "fmt", completions[0].Label)

		memory, readErr := client.ReadMemory(ctx, "0x1000", 0, 4)
		require.NoError(t, readErr)
		assert.Equal(t, "AQIDBA==", memory.Data)

		written, writeErr := client.WriteMemory(ctx, "0x1000", 0, "AQIDBA==")
		require.NoError(t, writeErr)
		assert.Equal(t, 4, written.BytesWritten)

		instructions, disassembleErr := client.Disassemble(ctx, "0x1000", 0, 2)
		require.NoError(t, disassembleErr)
		require.Len(t, instructions, 2)
		assert.Equal(t, "ret", instructions[1].Instruction)

		require.Equal(t, 0, session.Pending())
	})
}
