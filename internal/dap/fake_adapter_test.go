/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

const fakeAdapterTimeout = 5 * time.Second

// fakeAdapter is the adapter side of an in-memory connection.
// It reads client messages with the go-dap decoder and writes from a separate goroutine,
// so it never stops reading while a write is in progress.
type fakeAdapter struct {
	t    *testing.T
	conn net.Conn

	received chan dap.Message
	outgoing chan []byte

	seqLock sync.Mutex
	seq     int

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeAdapter(t *testing.T) (*fakeAdapter, net.Conn) {
	adapterEnd, clientEnd := net.Pipe()

	a := &fakeAdapter{
		t:        t,
		conn:     adapterEnd,
		received: make(chan dap.Message, 64),
		outgoing: make(chan []byte, 64),
		seq:      1,
		done:     make(chan struct{}),
	}

	go a.readLoop()
	go a.writeLoop()
	t.Cleanup(a.Close)

	return a, clientEnd
}

func (a *fakeAdapter) readLoop() {
	defer close(a.received)
	reader := bufio.NewReader(a.conn)
	for {
		msg, readErr := dap.ReadProtocolMessage(reader)
		if readErr != nil {
			return
		}
		a.received <- msg
	}
}

func (a *fakeAdapter) writeLoop() {
	for {
		select {
		case data := <-a.outgoing:
			if _, writeErr := a.conn.Write(data); writeErr != nil {
				return
			}
		case <-a.done:
			return
		}
	}
}

// Close closes the adapter end of the connection; the client observes end of stream.
func (a *fakeAdapter) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		_ = a.conn.Close()
	})
}

func (a *fakeAdapter) nextSeq() int {
	a.seqLock.Lock()
	defer a.seqLock.Unlock()
	seq := a.seq
	a.seq++
	return seq
}

// Expect returns the next message sent by the client.
func (a *fakeAdapter) Expect() dap.Message {
	a.t.Helper()
	select {
	case msg, ok := <-a.received:
		require.True(a.t, ok, "connection closed while waiting for a client message")
		return msg
	case <-time.After(fakeAdapterTimeout):
		require.Fail(a.t, "timed out waiting for a client message")
		return nil
	}
}

// ExpectRequest returns the next client message, which must be a request for command.
func (a *fakeAdapter) ExpectRequest(command string) *dap.Request {
	a.t.Helper()
	msg := a.Expect()
	req, ok := msg.(dap.RequestMessage)
	require.True(a.t, ok, "expected a request, got %T", msg)
	require.Equal(a.t, command, req.GetRequest().Command)
	return req.GetRequest()
}

// Send writes a message, assigning the adapter's next sequence number.
func (a *fakeAdapter) Send(msg dap.Message) {
	a.t.Helper()
	switch m := msg.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = a.nextSeq()
		m.GetResponse().Type = typeResponse
	case dap.EventMessage:
		m.GetEvent().Seq = a.nextSeq()
		m.GetEvent().Type = typeEvent
	case dap.RequestMessage:
		m.GetRequest().Seq = a.nextSeq()
		m.GetRequest().Type = typeRequest
	}

	var buf bytes.Buffer
	require.NoError(a.t, dap.WriteProtocolMessage(&buf, msg))
	a.SendRaw(buf.Bytes())
}

// SendRaw writes bytes to the connection as they are.
func (a *fakeAdapter) SendRaw(data []byte) {
	select {
	case a.outgoing <- data:
	case <-a.done:
	}
}

func (a *fakeAdapter) SendEvent(event string, body string) {
	a.SendRaw(EncodeFrame([]byte(`{"seq":` + strconv.Itoa(a.nextSeq()) + `,"type":"event","event":"` + event + `","body":` + body + `}`)))
}

// Respond answers req successfully with the given response, which may be nil for body-less responses.
func (a *fakeAdapter) Respond(req *dap.Request, resp dap.ResponseMessage) {
	a.t.Helper()
	if resp == nil {
		resp = &dap.Response{}
	}
	envelope := resp.GetResponse()
	envelope.RequestSeq = req.Seq
	envelope.Command = req.Command
	envelope.Success = true
	a.Send(resp)
}

func (a *fakeAdapter) RespondError(req *dap.Request, message string, body *dap.ErrorMessage) {
	a.t.Helper()
	a.Send(&dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Type: typeResponse},
			RequestSeq:      req.Seq,
			Command:         req.Command,
			Success:         false,
			Message:         message,
		},
		Body: dap.ErrorResponseBody{Error: body},
	})
}

type channelVariant struct {
	name       string
	newChannel func(ctx context.Context, conn net.Conn) Channel
}

var channelVariants = []channelVariant{
	{
		name:       "cooperative",
		newChannel: func(_ context.Context, conn net.Conn) Channel { return NewStreamChannel(conn) },
	},
	{
		name:       "threaded",
		newChannel: func(ctx context.Context, conn net.Conn) Channel { return NewQueuedChannel(ctx, conn) },
	},
}
