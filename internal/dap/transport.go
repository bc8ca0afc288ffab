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
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/chanx"
)

// DefaultReadChunkSize is the most a single Channel.Read returns from the underlying stream.
const DefaultReadChunkSize = 4096

// Channel is a duplex byte channel to a debug adapter.
// Read and Write may be called concurrently with each other, but the session
// only ever has one Read and one Write in flight.
type Channel interface {
	// Read returns the next chunk of received bytes. It may block until data is available.
	// It returns io.EOF when the peer closed the stream, and ctx.Err() if the context
	// was done before any data arrived.
	Read(ctx context.Context) ([]byte, error)

	// Write writes all of data or returns an error.
	Write(ctx context.Context, data []byte) error

	// Close closes the channel. Blocked reads and writes return with an error.
	Close() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// StreamChannel is the cooperative Channel variant: Read blocks the calling
// goroutine on the underlying stream. On streams that support read deadlines
// (net.Conn, os.File pipes) a done context interrupts the blocked read.
type StreamChannel struct {
	reader  io.Reader
	writer  io.Writer
	closers []io.Closer

	readBuf []byte

	// deadlineMu serializes deadline changes between the reader and context callbacks.
	deadlineMu sync.Mutex
	readGen    uint64

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStreamChannel creates a cooperative channel over a read-write stream such as a net.Conn.
//
// If the stream has no read deadlines (it does not implement SetReadDeadline), a blocked
// Read cannot be interrupted. A Session using such a channel then writes requests queued
// while it waits for input only after the next chunk arrives. Use NewQueuedChannel for
// those streams.
func NewStreamChannel(rwc io.ReadWriteCloser) *StreamChannel {
	return &StreamChannel{
		reader:  rwc,
		writer:  rwc,
		closers: []io.Closer{rwc},
		readBuf: make([]byte, DefaultReadChunkSize),
	}
}

// NewStdioChannel creates a cooperative channel over separate input and output streams,
// e.g. the stdout and stdin pipes of an adapter process. The read deadline caveat of
// NewStreamChannel applies to stdout.
func NewStdioChannel(stdout io.ReadCloser, stdin io.WriteCloser) *StreamChannel {
	return &StreamChannel{
		reader:  stdout,
		writer:  stdin,
		closers: []io.Closer{stdin, stdout},
		readBuf: make([]byte, DefaultReadChunkSize),
	}
}

func (c *StreamChannel) Read(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if dl, ok := c.reader.(readDeadliner); ok {
		c.deadlineMu.Lock()
		c.readGen++
		gen := c.readGen
		_ = dl.SetReadDeadline(time.Time{})
		c.deadlineMu.Unlock()

		stop := context.AfterFunc(ctx, func() {
			c.deadlineMu.Lock()
			defer c.deadlineMu.Unlock()
			if c.readGen == gen {
				_ = dl.SetReadDeadline(time.Now())
			}
		})
		defer stop()
	}

	n, readErr := c.reader.Read(c.readBuf)
	var data []byte
	if n > 0 {
		data = append([]byte(nil), c.readBuf[:n]...)
	}

	if readErr != nil {
		if ctx.Err() != nil && errors.Is(readErr, os.ErrDeadlineExceeded) {
			return data, ctx.Err()
		}
		if c.closed.Load() && !errors.Is(readErr, io.EOF) {
			return data, ErrChannelClosed
		}
		return data, readErr
	}

	return data, nil
}

func (c *StreamChannel) Write(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, writeErr := c.writer.Write(data); writeErr != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(data), writeErr)
	}
	return nil
}

func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		var errs []error
		for _, closer := range c.closers {
			if closeErr := closer.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && !errors.Is(closeErr, os.ErrClosed) {
				errs = append(errs, closeErr)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// QueuedChannel is the thread-based Channel variant: a dedicated goroutine performs
// blocking reads on the stream and queues the chunks, so Read never blocks on the
// stream itself. Read only waits when the queue is empty, and returns as soon as
// a chunk arrives or the context is done.
type QueuedChannel struct {
	stream *StreamChannel
	chunks *chanx.UnboundedChan[[]byte]

	alive atomic.Bool

	termMu  sync.Mutex
	termErr error

	cancel context.CancelFunc
}

const chunkQueueInitialCapacity = 8

// NewQueuedChannel creates a thread-based channel over a read-write stream.
// The reader goroutine stops when the stream ends, fails, or the channel is closed.
func NewQueuedChannel(ctx context.Context, rwc io.ReadWriteCloser) *QueuedChannel {
	return newQueuedChannel(ctx, NewStreamChannel(rwc))
}

// NewQueuedStdioChannel creates a thread-based channel over separate input and output streams.
func NewQueuedStdioChannel(ctx context.Context, stdout io.ReadCloser, stdin io.WriteCloser) *QueuedChannel {
	return newQueuedChannel(ctx, NewStdioChannel(stdout, stdin))
}

func newQueuedChannel(ctx context.Context, stream *StreamChannel) *QueuedChannel {
	lifetimeCtx, cancel := context.WithCancel(ctx)
	c := &QueuedChannel{
		stream: stream,
		chunks: chanx.NewUnboundedChan[[]byte](lifetimeCtx, chunkQueueInitialCapacity),
		cancel: cancel,
	}
	c.alive.Store(true)

	go c.pump(lifetimeCtx)

	return c
}

func (c *QueuedChannel) pump(ctx context.Context) {
	defer close(c.chunks.In)

	for {
		data, readErr := c.stream.Read(ctx)
		if len(data) > 0 {
			select {
			case c.chunks.In <- data:
			case <-ctx.Done():
				c.terminate(ctx.Err())
				return
			}
		}

		if readErr != nil {
			c.terminate(readErr)
			return
		}
	}
}

func (c *QueuedChannel) terminate(err error) {
	c.termMu.Lock()
	if c.termErr == nil {
		c.termErr = err
	}
	c.termMu.Unlock()
	c.alive.Store(false)
}

// terminalError is the error that stopped the reader goroutine; it is reported once the queue is empty.
func (c *QueuedChannel) terminalError() error {
	c.termMu.Lock()
	defer c.termMu.Unlock()

	switch {
	case c.termErr == nil, errors.Is(c.termErr, context.Canceled):
		return ErrChannelClosed
	default:
		return c.termErr
	}
}

// Alive reports whether the reader goroutine is still running. A channel that is not alive
// may still have queued data; Read returns it before reporting the terminal error.
func (c *QueuedChannel) Alive() bool {
	return c.alive.Load()
}

func (c *QueuedChannel) Read(ctx context.Context) ([]byte, error) {
	var data []byte

	for {
		select {
		case chunk, ok := <-c.chunks.Out:
			if !ok {
				if len(data) > 0 {
					return data, nil
				}
				return nil, c.terminalError()
			}
			data = append(data, chunk...)
			if len(data) >= DefaultReadChunkSize {
				return data, nil
			}
			continue
		default:
		}

		if len(data) > 0 {
			return data, nil
		}

		// Nothing queued: wait for the reader goroutine, the stream end, or the caller.
		select {
		case chunk, ok := <-c.chunks.Out:
			if !ok {
				return nil, c.terminalError()
			}
			data = append(data, chunk...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *QueuedChannel) Write(ctx context.Context, data []byte) error {
	return c.stream.Write(ctx, data)
}

func (c *QueuedChannel) Close() error {
	c.cancel()
	return c.stream.Close()
}

var (
	_ Channel = (*StreamChannel)(nil)
	_ Channel = (*QueuedChannel)(nil)
)
