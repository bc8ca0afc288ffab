/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestRequest(t *testing.T, seq int, command string, args any) []byte {
	t.Helper()
	req, reqErr := NewRawRequest(command, args)
	require.NoError(t, reqErr)
	req.Seq = seq
	data, encodeErr := EncodeMessage(req)
	require.NoError(t, encodeErr)
	return data
}

func TestEncodeFrameHeader(t *testing.T) {
	t.Parallel()

	frame := EncodeFrame([]byte(`{"seq":1}`))
	assert.Equal(t, "Content-Length: 9\r\n\r\n{\"seq\":1}", string(frame))
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	data := encodeTestRequest(t, 7, "evaluate", map[string]any{"expression": "x + 1", "frameId": 3})

	frames, decodeErr := NewFrameDecoder().Feed(data)
	require.NoError(t, decodeErr)
	require.Len(t, frames, 1)

	frame := frames[0]
	assert.Equal(t, 7, frame.Seq)
	assert.Equal(t, "request", frame.Type)
	assert.Equal(t, "evaluate", frame.Command)

	var decoded RawRequest
	require.NoError(t, json.Unmarshal(frame.Raw, &decoded))
	assert.JSONEq(t, `{"expression":"x + 1","frameId":3}`, string(decoded.Arguments))
}

func TestCodecPartialFrames(t *testing.T) {
	t.Parallel()

	data := encodeTestRequest(t, 0, "initialize", dap.InitializeRequestArguments{AdapterID: "go"})

	whole, wholeErr := NewFrameDecoder().Feed(data)
	require.NoError(t, wholeErr)
	require.Len(t, whole, 1)

	decoder := NewFrameDecoder()
	for i := 0; i < len(data)-1; i++ {
		frames, feedErr := decoder.Feed(data[i : i+1])
		require.NoError(t, feedErr)
		require.Empty(t, frames, "no frame expected after %d bytes", i+1)
	}

	frames, feedErr := decoder.Feed(data[len(data)-1:])
	require.NoError(t, feedErr)
	require.Len(t, frames, 1)
	assert.Equal(t, whole[0], frames[0])
	assert.Equal(t, 0, decoder.Buffered())
}

func TestCodecMultipleFrames(t *testing.T) {
	t.Parallel()

	first := encodeTestRequest(t, 0, "initialize", nil)
	second := encodeTestRequest(t, 1, "threads", nil)
	third := encodeTestRequest(t, 2, "pause", nil)

	data := append(append([]byte{}, first...), second...)
	data = append(data, third[:10]...)

	decoder := NewFrameDecoder()
	frames, feedErr := decoder.Feed(data)
	require.NoError(t, feedErr)
	require.Len(t, frames, 2)
	assert.Equal(t, "initialize", frames[0].Command)
	assert.Equal(t, "threads", frames[1].Command)
	assert.Equal(t, 10, decoder.Buffered())

	frames, feedErr = decoder.Feed(third[10:])
	require.NoError(t, feedErr)
	require.Len(t, frames, 1)
	assert.Equal(t, "pause", frames[0].Command)
}

func TestCodecMultiByteContent(t *testing.T) {
	t.Parallel()

	expression := "héllo wörld ✓ 日本"
	data := encodeTestRequest(t, 3, "evaluate", map[string]string{"expression": expression})

	header, body, found := strings.Cut(string(data), "\r\n\r\n")
	require.True(t, found)
	assert.Equal(t, "Content-Length: "+strconv.Itoa(len(body)), header)
	assert.Greater(t, len(body), len([]rune(body)))

	decoder := NewFrameDecoder()
	var frames []Frame
	for i := range data {
		decoded, feedErr := decoder.Feed(data[i : i+1])
		require.NoError(t, feedErr)
		frames = append(frames, decoded...)
	}
	require.Len(t, frames, 1)

	var decoded struct {
		Arguments struct {
			Expression string `json:"expression"`
		} `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Raw, &decoded))
	assert.Equal(t, expression, decoded.Arguments.Expression)
}

func TestCodecRejectsMalformedHeaders(t *testing.T) {
	t.Parallel()

	body := `{"seq":1,"type":"event","event":"output"}`
	tests := []struct {
		name  string
		input string
	}{
		{"wrong header key", "Content-Type: 5\r\n\r\n" + body},
		{"extra header line", "Content-Length: 41\r\nContent-Type: application/json\r\n\r\n" + body},
		{"duplicate content length", "Content-Length: 41\r\nContent-Length: 41\r\n\r\n" + body},
		{"missing colon", "Content-Length 41\r\n\r\n" + body},
		{"non numeric length", "Content-Length: abc\r\n\r\n" + body},
		{"negative length", "Content-Length: -1\r\n\r\n" + body},
		{"empty length", "Content-Length: \r\n\r\n" + body},
		{"length too large", "Content-Length: 999999999999\r\n\r\n" + body},
		{"body is not JSON", "Content-Length: 5\r\n\r\nhello"},
		{"no delimiter", strings.Repeat("x", maxHeaderLength+1)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			frames, feedErr := NewFrameDecoder().Feed([]byte(tc.input))
			assert.Empty(t, frames)
			require.ErrorIs(t, feedErr, ErrFraming)

			var framingErr *FramingError
			require.ErrorAs(t, feedErr, &framingErr)
			assert.NotEmpty(t, framingErr.Reason)
			assert.True(t, IsSessionFatal(feedErr))
		})
	}
}

func TestCodecRejectsIncompleteEnvelopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"event without seq", `{"type":"event","event":"output"}`},
		{"response without seq", `{"type":"response","request_seq":0,"command":"threads","success":true}`},
		{"response without request_seq", `{"seq":1,"type":"response","command":"initialize","success":true,"body":{}}`},
		{"response without success", `{"seq":1,"type":"response","request_seq":0,"command":"initialize"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			frames, feedErr := NewFrameDecoder().Feed(EncodeFrame([]byte(tc.content)))
			assert.Empty(t, frames)
			require.ErrorIs(t, feedErr, ErrFraming)
		})
	}

	// Zero values that are present are valid.
	frames, feedErr := NewFrameDecoder().Feed(EncodeFrame([]byte(`{"seq":0,"type":"response","request_seq":0,"command":"threads","success":false}`)))
	require.NoError(t, feedErr)
	require.Len(t, frames, 1)
	assert.Equal(t, 0, frames[0].RequestSeq)
	assert.False(t, frames[0].Success)
}

func TestCodecFramingErrorIsSticky(t *testing.T) {
	t.Parallel()

	good := encodeTestRequest(t, 0, "threads", nil)
	data := append(append([]byte{}, good...), "Bogus: 1\r\n\r\n{}"...)

	decoder := NewFrameDecoder()
	frames, feedErr := decoder.Feed(data)
	require.ErrorIs(t, feedErr, ErrFraming)
	require.Len(t, frames, 1, "frames before the bad header are still returned")

	frames, feedErr = decoder.Feed(good)
	require.ErrorIs(t, feedErr, ErrFraming)
	assert.Empty(t, frames)
}
