/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"sync"

	"github.com/google/go-dap"
)

type (
	// ResponseCtor returns a new, empty value of the response shape registered for a command.
	ResponseCtor func() dap.ResponseMessage

	// EventCtor returns a new, empty value of the event shape registered for an event name.
	EventCtor func() dap.EventMessage

	// RequestCtor returns a new, empty value of the request shape registered for a reverse request.
	RequestCtor func() dap.RequestMessage
)

// Registry maps command and event names to the Go types their messages decode into.
// Names the registry does not know are passed through as raw messages.
// A Registry is safe for concurrent use.
type Registry struct {
	mu              sync.RWMutex
	responses       map[string]ResponseCtor
	events          map[string]EventCtor
	reverseRequests map[string]RequestCtor
}

// NewEmptyRegistry creates a registry with no entries. Every message decoded with it is raw.
func NewEmptyRegistry() *Registry {
	return &Registry{
		responses:       make(map[string]ResponseCtor),
		events:          make(map[string]EventCtor),
		reverseRequests: make(map[string]RequestCtor),
	}
}

// NewRegistry creates a registry populated with every standard DAP response, event and reverse request.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for command, ctor := range standardResponses {
		r.responses[command] = ctor
	}
	for event, ctor := range standardEvents {
		r.events[event] = ctor
	}
	for command, ctor := range standardReverseRequests {
		r.reverseRequests[command] = ctor
	}
	return r
}

// RegisterResponse binds the response shape for a command, replacing any previous binding.
func (r *Registry) RegisterResponse(command string, ctor ResponseCtor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[command] = ctor
}

// RegisterEvent binds the body shape for an event, replacing any previous binding.
func (r *Registry) RegisterEvent(event string, ctor EventCtor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event] = ctor
}

// RegisterReverseRequest binds the shape of a request the adapter may send to the client.
func (r *Registry) RegisterReverseRequest(command string, ctor RequestCtor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reverseRequests[command] = ctor
}

// DecodeResponse decodes a successful response for command.
// The boolean result is false if the command is not registered; the message is nil in that case.
func (r *Registry) DecodeResponse(command string, raw json.RawMessage) (dap.ResponseMessage, bool, error) {
	r.mu.RLock()
	ctor, found := r.responses[command]
	r.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	msg := ctor()
	if unmarshalErr := json.Unmarshal(raw, msg); unmarshalErr != nil {
		return nil, true, &DecodeError{Kind: typeResponse, Name: command, Err: unmarshalErr}
	}
	return msg, true, nil
}

// DecodeEvent decodes an event.
// The boolean result is false if the event is not registered; the message is nil in that case.
func (r *Registry) DecodeEvent(event string, raw json.RawMessage) (dap.EventMessage, bool, error) {
	r.mu.RLock()
	ctor, found := r.events[event]
	r.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	msg := ctor()
	if unmarshalErr := json.Unmarshal(raw, msg); unmarshalErr != nil {
		return nil, true, &DecodeError{Kind: typeEvent, Name: event, Err: unmarshalErr}
	}
	return msg, true, nil
}

// DecodeReverseRequest decodes a request sent by the adapter.
// The boolean result is false if the command is not registered; the message is nil in that case.
func (r *Registry) DecodeReverseRequest(command string, raw json.RawMessage) (dap.RequestMessage, bool, error) {
	r.mu.RLock()
	ctor, found := r.reverseRequests[command]
	r.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	msg := ctor()
	if unmarshalErr := json.Unmarshal(raw, msg); unmarshalErr != nil {
		return nil, true, &DecodeError{Kind: typeRequest, Name: command, Err: unmarshalErr}
	}
	return msg, true, nil
}

var standardResponses = map[string]ResponseCtor{
	"cancel":                    func() dap.ResponseMessage { return &dap.CancelResponse{} },
	"initialize":                func() dap.ResponseMessage { return &dap.InitializeResponse{} },
	"configurationDone":         func() dap.ResponseMessage { return &dap.ConfigurationDoneResponse{} },
	"launch":                    func() dap.ResponseMessage { return &dap.LaunchResponse{} },
	"attach":                    func() dap.ResponseMessage { return &dap.AttachResponse{} },
	"restart":                   func() dap.ResponseMessage { return &dap.RestartResponse{} },
	"disconnect":                func() dap.ResponseMessage { return &dap.DisconnectResponse{} },
	"terminate":                 func() dap.ResponseMessage { return &dap.TerminateResponse{} },
	"breakpointLocations":       func() dap.ResponseMessage { return &dap.BreakpointLocationsResponse{} },
	"setBreakpoints":            func() dap.ResponseMessage { return &dap.SetBreakpointsResponse{} },
	"setFunctionBreakpoints":    func() dap.ResponseMessage { return &dap.SetFunctionBreakpointsResponse{} },
	"setExceptionBreakpoints":   func() dap.ResponseMessage { return &dap.SetExceptionBreakpointsResponse{} },
	"dataBreakpointInfo":        func() dap.ResponseMessage { return &dap.DataBreakpointInfoResponse{} },
	"setDataBreakpoints":        func() dap.ResponseMessage { return &dap.SetDataBreakpointsResponse{} },
	"setInstructionBreakpoints": func() dap.ResponseMessage { return &dap.SetInstructionBreakpointsResponse{} },
	"continue":                  func() dap.ResponseMessage { return &dap.ContinueResponse{} },
	"next":                      func() dap.ResponseMessage { return &dap.NextResponse{} },
	"stepIn":                    func() dap.ResponseMessage { return &dap.StepInResponse{} },
	"stepOut":                   func() dap.ResponseMessage { return &dap.StepOutResponse{} },
	"stepBack":                  func() dap.ResponseMessage { return &dap.StepBackResponse{} },
	"reverseContinue":           func() dap.ResponseMessage { return &dap.ReverseContinueResponse{} },
	"restartFrame":              func() dap.ResponseMessage { return &dap.RestartFrameResponse{} },
	"goto":                      func() dap.ResponseMessage { return &dap.GotoResponse{} },
	"pause":                     func() dap.ResponseMessage { return &dap.PauseResponse{} },
	"stackTrace":                func() dap.ResponseMessage { return &dap.StackTraceResponse{} },
	"scopes":                    func() dap.ResponseMessage { return &dap.ScopesResponse{} },
	"variables":                 func() dap.ResponseMessage { return &dap.VariablesResponse{} },
	"setVariable":               func() dap.ResponseMessage { return &dap.SetVariableResponse{} },
	"source":                    func() dap.ResponseMessage { return &dap.SourceResponse{} },
	"threads":                   func() dap.ResponseMessage { return &dap.ThreadsResponse{} },
	"terminateThreads":          func() dap.ResponseMessage { return &dap.TerminateThreadsResponse{} },
	"modules":                   func() dap.ResponseMessage { return &dap.ModulesResponse{} },
	"loadedSources":             func() dap.ResponseMessage { return &dap.LoadedSourcesResponse{} },
	"evaluate":                  func() dap.ResponseMessage { return &dap.EvaluateResponse{} },
	"setExpression":             func() dap.ResponseMessage { return &dap.SetExpressionResponse{} },
	"stepInTargets":             func() dap.ResponseMessage { return &dap.StepInTargetsResponse{} },
	"gotoTargets":               func() dap.ResponseMessage { return &dap.GotoTargetsResponse{} },
	"completions":               func() dap.ResponseMessage { return &dap.CompletionsResponse{} },
	"exceptionInfo":             func() dap.ResponseMessage { return &dap.ExceptionInfoResponse{} },
	"readMemory":                func() dap.ResponseMessage { return &dap.ReadMemoryResponse{} },
	"writeMemory":               func() dap.ResponseMessage { return &dap.WriteMemoryResponse{} },
	"disassemble":               func() dap.ResponseMessage { return &dap.DisassembleResponse{} },
}

var standardEvents = map[string]EventCtor{
	"initialized":    func() dap.EventMessage { return &dap.InitializedEvent{} },
	"stopped":        func() dap.EventMessage { return &dap.StoppedEvent{} },
	"continued":      func() dap.EventMessage { return &dap.ContinuedEvent{} },
	"exited":         func() dap.EventMessage { return &dap.ExitedEvent{} },
	"terminated":     func() dap.EventMessage { return &dap.TerminatedEvent{} },
	"thread":         func() dap.EventMessage { return &dap.ThreadEvent{} },
	"output":         func() dap.EventMessage { return &dap.OutputEvent{} },
	"breakpoint":     func() dap.EventMessage { return &dap.BreakpointEvent{} },
	"module":         func() dap.EventMessage { return &dap.ModuleEvent{} },
	"loadedSource":   func() dap.EventMessage { return &dap.LoadedSourceEvent{} },
	"process":        func() dap.EventMessage { return &dap.ProcessEvent{} },
	"capabilities":   func() dap.EventMessage { return &dap.CapabilitiesEvent{} },
	"progressStart":  func() dap.EventMessage { return &dap.ProgressStartEvent{} },
	"progressUpdate": func() dap.EventMessage { return &dap.ProgressUpdateEvent{} },
	"progressEnd":    func() dap.EventMessage { return &dap.ProgressEndEvent{} },
	"invalidated":    func() dap.EventMessage { return &dap.InvalidatedEvent{} },
	"memory":         func() dap.EventMessage { return &dap.MemoryEvent{} },
}

var standardReverseRequests = map[string]RequestCtor{
	"runInTerminal":  func() dap.RequestMessage { return &dap.RunInTerminalRequest{} },
	"startDebugging": func() dap.RequestMessage { return &dap.StartDebuggingRequest{} },
}
