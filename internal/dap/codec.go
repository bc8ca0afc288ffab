/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-dap"
)

const (
	contentLengthHeader = "Content-Length"

	// DefaultMaxContentLength is the largest frame body the decoder accepts.
	DefaultMaxContentLength = 64 * 1024 * 1024

	// maxHeaderLength bounds how many bytes may accumulate before the header delimiter shows up.
	maxHeaderLength = 1024
)

var headerDelimiter = []byte("\r\n\r\n")

// EncodeFrame wraps an already serialized JSON body into a wire frame.
func EncodeFrame(body []byte) []byte {
	header := contentLengthHeader + ": " + strconv.Itoa(len(body)) + string(headerDelimiter)
	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	return append(frame, body...)
}

// EncodeMessage serializes a DAP message and frames it for the wire.
// The Content-Length header counts encoded bytes, not characters.
func EncodeMessage(msg dap.Message) ([]byte, error) {
	body, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal DAP message: %w", marshalErr)
	}
	return EncodeFrame(body), nil
}

// Frame is one decoded wire frame: the raw JSON content plus the protocol envelope
// fields needed to route it.
type Frame struct {
	Seq        int
	Type       string
	Command    string
	Event      string
	RequestSeq int
	Success    bool
	Message    string

	// Raw holds the complete JSON content of the frame.
	Raw json.RawMessage
}

// frameEnvelope uses pointers for the fields whose absence must be told apart from a zero value.
type frameEnvelope struct {
	Seq        *int   `json:"seq"`
	Type       string `json:"type"`
	Command    string `json:"command"`
	Event      string `json:"event"`
	RequestSeq *int   `json:"request_seq"`
	Success    *bool  `json:"success"`
	Message    string `json:"message"`
}

// FrameDecoder incrementally extracts frames from a byte stream.
// Each connection needs its own decoder; a decoder is not safe for concurrent use.
type FrameDecoder struct {
	buf              []byte
	maxContentLength int

	// err is sticky: once the stream is out of sync it cannot be recovered.
	err error
}

// NewFrameDecoder creates a decoder with an empty receive buffer.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{maxContentLength: DefaultMaxContentLength}
}

// Feed appends data to the receive buffer and returns every frame that is now complete,
// in stream order. Incomplete trailing data stays buffered for the next call.
// If a framing error occurs, the frames decoded before the error are returned with it.
func (d *FrameDecoder) Feed(data []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	d.buf = append(d.buf, data...)

	var frames []Frame
	consumed := 0
	for {
		pending := d.buf[consumed:]

		headerEnd := bytes.Index(pending, headerDelimiter)
		if headerEnd < 0 {
			if len(pending) > maxHeaderLength {
				d.err = newFramingError(fmt.Sprintf("no header delimiter within %d bytes", maxHeaderLength), nil)
			}
			break
		}

		contentLength, headerErr := d.parseHeader(pending[:headerEnd])
		if headerErr != nil {
			d.err = headerErr
			break
		}

		bodyStart := headerEnd + len(headerDelimiter)
		if len(pending)-bodyStart < contentLength {
			// Partial frame, wait for more data.
			break
		}

		frame, frameErr := parseFrame(pending[bodyStart : bodyStart+contentLength])
		if frameErr != nil {
			d.err = frameErr
			break
		}

		frames = append(frames, frame)
		consumed += bodyStart + contentLength
	}

	if consumed > 0 {
		d.buf = append([]byte(nil), d.buf[consumed:]...)
	}

	return frames, d.err
}

// Buffered returns the number of received bytes that are not yet part of a complete frame.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

func (d *FrameDecoder) parseHeader(header []byte) (int, error) {
	lines := strings.Split(string(header), "\r\n")
	if len(lines) != 1 {
		return 0, newFramingError(fmt.Sprintf("expected exactly one header line, got %d", len(lines)), nil)
	}

	key, value, found := strings.Cut(lines[0], ":")
	if !found {
		return 0, newFramingError(fmt.Sprintf("malformed header %q", lines[0]), nil)
	}
	if key != contentLengthHeader {
		return 0, newFramingError(fmt.Sprintf("unsupported header %q", key), nil)
	}

	value = strings.TrimSpace(value)
	if value == "" || strings.IndexFunc(value, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, newFramingError(fmt.Sprintf("invalid content length %q", value), nil)
	}

	contentLength, parseErr := strconv.Atoi(value)
	if parseErr != nil {
		return 0, newFramingError(fmt.Sprintf("invalid content length %q", value), parseErr)
	}
	if contentLength > d.maxContentLength {
		return 0, newFramingError(fmt.Sprintf("content length %d exceeds limit of %d bytes", contentLength, d.maxContentLength), nil)
	}

	return contentLength, nil
}

func parseFrame(content []byte) (Frame, error) {
	var env frameEnvelope
	if unmarshalErr := json.Unmarshal(content, &env); unmarshalErr != nil {
		return Frame{}, newFramingError("undecodable JSON body", unmarshalErr)
	}

	if env.Seq == nil {
		return Frame{}, newFramingError("message has no seq", nil)
	}

	frame := Frame{
		Seq:     *env.Seq,
		Type:    env.Type,
		Command: env.Command,
		Event:   env.Event,
		Message: env.Message,
		Raw:     append(json.RawMessage(nil), content...),
	}

	// A response without request_seq would otherwise be correlated with request 0.
	if env.Type == typeResponse {
		if env.RequestSeq == nil {
			return Frame{}, newFramingError(fmt.Sprintf("response seq=%d has no request_seq", frame.Seq), nil)
		}
		if env.Success == nil {
			return Frame{}, newFramingError(fmt.Sprintf("response seq=%d has no success flag", frame.Seq), nil)
		}
		frame.RequestSeq = *env.RequestSeq
		frame.Success = *env.Success
	} else {
		if env.RequestSeq != nil {
			frame.RequestSeq = *env.RequestSeq
		}
		if env.Success != nil {
			frame.Success = *env.Success
		}
	}

	return frame, nil
}
