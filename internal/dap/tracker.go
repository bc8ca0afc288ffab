/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"
)

// sequenceCounter provides thread-safe sequence number generation.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

// newSequenceCounter creates a new sequence counter starting at 0.
func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{seq: 0}
}

// Next returns the current sequence number and advances the counter.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.seq
	c.seq++
	return seq
}

// Current returns the sequence number the next call to Next will return.
func (c *sequenceCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Call is an in-flight request. Done is closed once the response arrived
// or the request can no longer be answered.
type Call struct {
	Seq     int
	Command string
	Request dap.RequestMessage
	Created time.Time

	// Response is the decoded response. For failed requests it is the *dap.ErrorResponse
	// (or *RawResponse if the error body was not structured) and Err is an *AdapterError.
	Response dap.Message
	Err      error

	done chan struct{}
	once sync.Once
}

func newCall(seq int, command string, req dap.RequestMessage, created time.Time) *Call {
	return &Call{
		Seq:     seq,
		Command: command,
		Request: req,
		Created: created,
		done:    make(chan struct{}),
	}
}

// Done returns a channel that is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or the context is done.
func (c *Call) Wait(ctx context.Context) (dap.Message, error) {
	select {
	case <-c.done:
		return c.Response, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish completes the call. Only the first completion takes effect.
func (c *Call) finish(resp dap.Message, err error) bool {
	finished := false
	c.once.Do(func() {
		c.Response = resp
		c.Err = err
		close(c.done)
		finished = true
	})
	return finished
}

// PendingRequest is a sent request waiting for its response.
type PendingRequest struct {
	Seq     int
	Command string
	Created time.Time

	call *Call

	// abandoned is set once nobody waits for the response anymore. The entry stays
	// so that a late response is still recognized; it no longer counts as pending.
	abandoned bool
}

// requestTracker assigns outbound sequence numbers and correlates responses
// with the requests that caused them.
type requestTracker struct {
	seq *sequenceCounter

	mu      sync.Mutex
	pending map[int]*PendingRequest

	timeSource func() time.Time
}

func newRequestTracker() *requestTracker {
	return &requestTracker{
		seq:        newSequenceCounter(),
		pending:    make(map[int]*PendingRequest),
		timeSource: time.Now,
	}
}

// NextSeq returns the next outbound sequence number.
// Every message this side sends (requests and reverse request responses alike) draws from it.
func (t *requestTracker) NextSeq() int {
	return t.seq.Next()
}

// Track registers a pending request under seq.
func (t *requestTracker) Track(seq int, command string, call *Call) (*PendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[seq]; exists {
		return nil, fmt.Errorf("%w: seq=%d command=%q", ErrDuplicateSeq, seq, command)
	}

	pr := &PendingRequest{
		Seq:     seq,
		Command: command,
		Created: t.timeSource(),
		call:    call,
	}
	t.pending[seq] = pr
	return pr, nil
}

// Resolve removes and returns the pending request for requestSeq.
// A second Resolve for the same sequence number fails, as does one for a number never tracked.
func (t *requestTracker) Resolve(requestSeq int, command string) (*PendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pr, found := t.pending[requestSeq]
	if !found {
		return nil, &UnknownRequestSeqError{RequestSeq: requestSeq, Command: command}
	}

	delete(t.pending, requestSeq)
	return pr, nil
}

// Forget removes a pending request without resolving it, e.g. when it could not be sent.
func (t *requestTracker) Forget(seq int) *PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	pr, found := t.pending[seq]
	if !found {
		return nil
	}
	delete(t.pending, seq)
	return pr
}

// Abandon marks the pending request for seq as no longer awaited.
// It reports whether the request was still tracked.
func (t *requestTracker) Abandon(seq int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pr, found := t.pending[seq]
	if !found {
		return false
	}
	pr.abandoned = true
	return true
}

// Len returns the number of pending requests that are still awaited.
func (t *requestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	awaited := 0
	for _, pr := range t.pending {
		if !pr.abandoned {
			awaited++
		}
	}
	return awaited
}

// DrainWithError completes every pending call with err and clears the tracker.
// It returns the number of requests that were still pending.
func (t *requestTracker) DrainWithError(err error) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[int]*PendingRequest)
	t.mu.Unlock()

	for _, pr := range drained {
		if pr.call != nil {
			pr.call.finish(nil, err)
		}
	}

	return len(drained)
}
