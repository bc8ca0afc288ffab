/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/smallnest/chanx"

	"github.com/microsoft/dap-client/pkg/resiliency"
)

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	// StateIdle is the state of a session that has not been started.
	StateIdle SessionState = iota
	// StateRunning is the state of a session whose loop is exchanging messages with the adapter.
	StateRunning
	// StateStopping is the state of a session that is tearing down.
	StateStopping
	// StateStopped is the terminal state. A stopped session cannot be restarted.
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

const defaultEventQueueCapacity = 16

// SessionConfig contains configuration options for a session.
type SessionConfig struct {
	// Registry maps command and event names to message types.
	// If nil, the standard DAP registry is used.
	Registry *Registry

	// ReverseRequestHandler handles requests sent by the adapter.
	// If nil, every reverse request is answered with an error response.
	ReverseRequestHandler ReverseRequestHandler

	// ProtocolErrorHandler is called with protocol violations the session survives,
	// i.e. responses that reference no pending request. It is called on the session loop
	// goroutine and must not block or stop the session.
	ProtocolErrorHandler func(err error)

	// Logger is the logger for the session. If nil, logging is disabled.
	Logger logr.Logger

	// EventQueueCapacity is the initial capacity of the event queue. The queue grows as needed.
	// If zero, defaults to 16.
	EventQueueCapacity int
}

type outboundFrame struct {
	seq     int
	command string
	data    []byte
}

// Session is a client session with a debug adapter.
//
// The session loop runs on a single goroutine: it writes queued requests, reads from
// the channel, decodes frames and dispatches them. Responses complete the Call of the
// request they answer, events are delivered via Events() in arrival order, and reverse
// requests are passed to the reverse request handler.
//
// Requests may be sent from any goroutine. They are written in the order they were sent.
type Session struct {
	id uuid.UUID

	channel    Channel
	tracker    *requestTracker
	dispatcher *dispatcher
	decoder    *FrameDecoder

	reverseHandler       ReverseRequestHandler
	protocolErrorHandler func(error)
	log                  logr.Logger

	// outboundMu protects the outbound queue, the read interrupt and sendClosed.
	// Sequence numbers are assigned under it, so the queue is always in sequence order.
	outboundMu    sync.Mutex
	outbound      []outboundFrame
	interruptRead context.CancelFunc
	sendClosed    bool

	events *chanx.UnboundedChan[dap.Message]

	closeChannelOnce sync.Once
	closeChannelErr  error

	// mu protects state, err and cancel
	mu     sync.Mutex
	state  SessionState
	err    error
	cancel context.CancelFunc

	done chan struct{}
}

// NewSession creates a session over the given channel. The session owns the channel
// and closes it when it stops.
//
// Stop must be called eventually, even if the session is never started: the event queue
// runs a goroutine that exits only when the session stops.
func NewSession(channel Channel, config SessionConfig) *Session {
	registry := config.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	eventQueueCapacity := config.EventQueueCapacity
	if eventQueueCapacity <= 0 {
		eventQueueCapacity = defaultEventQueueCapacity
	}

	id := uuid.New()

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithValues("session", id.String())

	tracker := newRequestTracker()

	return &Session{
		id:                   id,
		channel:              channel,
		tracker:              tracker,
		dispatcher:           newDispatcher(registry, tracker),
		decoder:              NewFrameDecoder(),
		reverseHandler:       config.ReverseRequestHandler,
		protocolErrorHandler: config.ProtocolErrorHandler,
		log:                  log,
		// The event queue must outlive the session so that consumers can drain it after the session stops.
		// It is closed (and its goroutine exits) when the session stops.
		events: chanx.NewUnboundedChan[dap.Message](context.Background(), eventQueueCapacity),
		done:   make(chan struct{}),
	}
}

// ID returns the unique identifier of the session, used in log entries.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Start starts the session loop and returns immediately.
// The loop runs until Stop is called, the context is done, the adapter closes the channel,
// or a fatal protocol error occurs.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateRunning:
		return ErrSessionStarted
	default:
		return ErrSessionStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning

	s.log.V(1).Info("Starting DAP session")
	go s.run(loopCtx)

	return nil
}

// Stop stops the session and waits for the teardown to complete.
// Requests still waiting for a response fail with ErrSessionClosed.
// Stop is idempotent; it may be called in any state, including before Start.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateStopping
		s.mu.Unlock()
		s.teardown(nil)
		return

	case StateRunning:
		s.state = StateStopping
		s.cancel()
		s.mu.Unlock()
		// Unblocks reads on channels that cannot be interrupted by the context.
		_ = s.closeChannel()

	default:
		s.mu.Unlock()
	}

	<-s.done
}

// Done returns a channel that is closed when the session has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has stopped and returns the error that stopped it, if any.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

// Err returns the fatal error that stopped the session. It is nil while the session
// is running, and after a session stopped because Stop was called, its context was done,
// or the adapter closed the channel with no requests outstanding.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current lifecycle state of the session.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of requests waiting for a response.
// Requests abandoned by Request because their context was done are not counted.
func (s *Session) Pending() int {
	return s.tracker.Len()
}

// Events returns the channel that delivers events in arrival order.
// The channel is closed after the session stops and all queued events were received.
func (s *Session) Events() <-chan dap.Message {
	return s.events.Out
}

// Send assigns the next sequence number to the request and queues it for writing.
// The returned Call completes when the response arrives or the session stops.
// Requests sent before the session is started are written once it starts.
func (s *Session) Send(ctx context.Context, req dap.RequestMessage) (*Call, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	r := req.GetRequest()
	if r.Command == "" {
		return nil, errors.New("request has no command")
	}

	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()

	if s.sendClosed {
		return nil, ErrSessionClosed
	}

	r.Seq = s.tracker.NextSeq()
	r.Type = typeRequest

	data, encodeErr := EncodeMessage(req)
	if encodeErr != nil {
		return nil, encodeErr
	}

	call := newCall(r.Seq, r.Command, req, time.Now())
	if _, trackErr := s.tracker.Track(r.Seq, r.Command, call); trackErr != nil {
		return nil, trackErr
	}

	s.enqueueLocked(outboundFrame{seq: r.Seq, command: r.Command, data: data})
	return call, nil
}

// Request sends the request and waits for its response.
// A response with success=false is returned together with an *AdapterError.
// If the context is done first, Request returns the context error and the request is
// abandoned: it no longer counts as pending, and its response, if it ever arrives, is discarded.
func (s *Session) Request(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	call, sendErr := s.Send(ctx, req)
	if sendErr != nil {
		return nil, sendErr
	}

	resp, waitErr := call.Wait(ctx)
	if waitErr != nil && ctx.Err() != nil && errors.Is(waitErr, ctx.Err()) {
		if call.finish(nil, waitErr) {
			s.tracker.Abandon(call.Seq)
		}
	}
	return resp, waitErr
}

// sendResponse queues an answer to a reverse request.
func (s *Session) sendResponse(resp dap.ResponseMessage) error {
	r := resp.GetResponse()

	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()

	if s.sendClosed {
		return ErrSessionClosed
	}

	r.Seq = s.tracker.NextSeq()
	r.Type = typeResponse

	data, encodeErr := EncodeMessage(resp)
	if encodeErr != nil {
		return encodeErr
	}

	s.enqueueLocked(outboundFrame{seq: r.Seq, command: r.Command, data: data})
	return nil
}

func (s *Session) enqueueLocked(frame outboundFrame) {
	s.outbound = append(s.outbound, frame)
	if s.interruptRead != nil {
		// Wake up the loop if it is waiting for data, so the frame is written promptly.
		s.interruptRead()
	}
}

func (s *Session) run(ctx context.Context) {
	var cause error
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), s.log); panicErr != nil {
			cause = panicErr
		}
		s.teardown(cause)
	}()

	for {
		stop, stepErr := s.step(ctx)
		if stop {
			cause = filterContextError(stepErr, ctx, s.log)
			return
		}
	}
}

// step runs one iteration of the session loop: write queued frames, read once,
// dispatch what was read. It returns true if the loop should stop, and the fatal error, if any.
func (s *Session) step(ctx context.Context) (bool, error) {
	readCtx, interrupt := context.WithCancel(ctx)
	defer interrupt()

	s.outboundMu.Lock()
	queued := s.outbound
	s.outbound = nil
	s.interruptRead = interrupt
	s.outboundMu.Unlock()

	for _, frame := range queued {
		if writeErr := s.channel.Write(ctx, frame.data); writeErr != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, s.failRequest(frame.seq, &TransportError{Op: "write", Err: writeErr})
		}
		s.log.V(1).Info("Sent message to adapter", "seq", frame.seq, "command", frame.command)
	}

	data, readErr := s.channel.Read(readCtx)

	if len(data) > 0 {
		if fatalErr := s.receive(ctx, data); fatalErr != nil {
			return true, fatalErr
		}
	}

	switch {
	case readErr == nil:
		return false, nil

	case ctx.Err() != nil:
		// Stop was requested, or the owner's context is done.
		return true, nil

	case errors.Is(readErr, context.Canceled) || errors.Is(readErr, context.DeadlineExceeded):
		// The read was interrupted because a frame was queued.
		return false, nil

	case errors.Is(readErr, io.EOF):
		pending := s.tracker.Len()
		if pending == 0 && s.decoder.Buffered() == 0 {
			s.log.V(1).Info("Debug adapter closed the connection")
			return true, nil
		}
		return true, &TransportError{
			Op:  "read",
			Err: fmt.Errorf("connection closed with %d request(s) pending and %d byte(s) of an incomplete frame: %w", pending, s.decoder.Buffered(), readErr),
		}

	default:
		if s.State() != StateRunning {
			return true, nil
		}
		return true, &TransportError{Op: "read", Err: readErr}
	}
}

// receive decodes the data and dispatches every complete frame in order.
// It returns the first fatal error.
func (s *Session) receive(ctx context.Context, data []byte) error {
	frames, framingErr := s.decoder.Feed(data)

	for _, frame := range frames {
		if dispatchErr := s.dispatch(ctx, frame); dispatchErr != nil {
			return dispatchErr
		}
	}

	return framingErr
}

func (s *Session) dispatch(ctx context.Context, frame Frame) error {
	result, dispatchErr := s.dispatcher.Dispatch(frame)

	var unknownSeqErr *UnknownRequestSeqError
	switch {
	case errors.As(dispatchErr, &unknownSeqErr):
		s.log.Info("Received response for unknown request", "requestSeq", unknownSeqErr.RequestSeq, "command", unknownSeqErr.Command)
		if s.protocolErrorHandler != nil {
			s.protocolErrorHandler(dispatchErr)
		}
		return nil

	case dispatchErr != nil:
		if result.Pending != nil && result.Pending.call != nil {
			result.Pending.call.finish(result.Message, dispatchErr)
		}
		return dispatchErr
	}

	switch result.Kind {
	case KindResponse:
		s.log.V(1).Info("Received response", "requestSeq", result.Pending.Seq, "command", result.Pending.Command, "success", result.Err == nil)
		if result.Pending.call != nil {
			result.Pending.call.finish(result.Message, result.Err)
		}

	case KindEvent:
		s.log.V(1).Info("Received event", "seq", frame.Seq, "event", frame.Event)
		s.events.In <- result.Message

	case KindReverseRequest:
		s.log.V(1).Info("Received reverse request", "seq", frame.Seq, "command", frame.Command)
		req, isRequest := result.Message.(dap.RequestMessage)
		if !isRequest {
			return &DecodeError{Kind: typeRequest, Name: frame.Command, Err: fmt.Errorf("unexpected message type %T", result.Message)}
		}
		s.handleReverseRequest(ctx, req)
	}

	return nil
}

func (s *Session) handleReverseRequest(ctx context.Context, req dap.RequestMessage) {
	// Handlers are not awaited by the teardown: a handler may stop the session itself.
	// They observe the stop through ctx, and their responses are dropped once sending is closed.
	go func() {
		defer func() {
			_ = resiliency.MakePanicError(recover(), s.log)
		}()

		resp := s.answerReverseRequest(ctx, req)
		if sendErr := s.sendResponse(resp); sendErr != nil {
			s.log.V(1).Info("Could not answer reverse request", "command", req.GetRequest().Command, "error", sendErr.Error())
		}
	}()
}

func (s *Session) answerReverseRequest(ctx context.Context, req dap.RequestMessage) dap.ResponseMessage {
	r := req.GetRequest()

	if s.reverseHandler == nil {
		s.log.Info("Rejecting reverse request", "command", r.Command)
		return rejectReverseRequest(r)
	}

	resp, handlerErr := s.reverseHandler(ctx, req)
	switch {
	case handlerErr != nil:
		s.log.Error(handlerErr, "Reverse request handler failed", "command", r.Command)
		return newErrorResponse(r, handlerErr.Error())

	case resp == nil:
		s.log.Info("Rejecting reverse request", "command", r.Command)
		return rejectReverseRequest(r)

	default:
		envelope := resp.GetResponse()
		envelope.RequestSeq = r.Seq
		if envelope.Command == "" {
			envelope.Command = r.Command
		}
		return resp
	}
}

// failRequest completes the call of the request that could not be written.
func (s *Session) failRequest(seq int, err error) error {
	if pr := s.tracker.Forget(seq); pr != nil && pr.call != nil {
		pr.call.finish(nil, err)
	}
	return err
}

func (s *Session) closeChannel() error {
	s.closeChannelOnce.Do(func() {
		s.closeChannelErr = s.channel.Close()
	})
	return s.closeChannelErr
}

// teardown runs exactly once, on the loop goroutine if the session was started.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	s.state = StateStopping
	s.err = cause
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.outboundMu.Lock()
	s.sendClosed = true
	unsent := len(s.outbound)
	s.outbound = nil
	s.interruptRead = nil
	s.outboundMu.Unlock()

	if closeErr := s.closeChannel(); closeErr != nil {
		s.log.V(1).Info("Error closing channel", "error", closeErr.Error())
	}

	closedErr := ErrSessionClosed
	if cause != nil {
		closedErr = errors.Join(ErrSessionClosed, cause)
	}
	drained := s.tracker.DrainWithError(closedErr)

	close(s.events.In)

	if cause != nil {
		s.log.Error(cause, "DAP session failed", "pendingRequests", drained, "unsentFrames", unsent)
	} else {
		s.log.V(1).Info("DAP session stopped", "pendingRequests", drained, "unsentFrames", unsent)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	close(s.done)
}
