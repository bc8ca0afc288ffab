/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package dap implements the client side of the Debug Adapter Protocol (DAP).
//
// A Session exchanges messages with a debug adapter over a Channel. Each frame on the
// wire is a "Content-Length: N" header, a blank line, and N bytes of JSON. The session
// loop runs on a single goroutine and repeats the same steps: write the queued requests,
// read once from the channel, feed the bytes to the FrameDecoder, dispatch every
// complete frame. Responses are correlated with their requests by request_seq,
// not by arrival order.
//
// Message bodies are decoded into the github.com/google/go-dap types registered in a
// Registry. Events and responses with names the registry does not know are passed
// through as RawEvent and RawResponse values, so adapter-specific extensions work
// without registration.
//
// Two Channel variants select the scheduling model:
//   - StreamChannel: the loop goroutine blocks on the stream itself (cooperative).
//   - QueuedChannel: a reader goroutine queues received chunks and the loop only
//     waits on the queue (thread-based).
//
// Connectors open a channel to an adapter that is already listening (TCPConnector)
// or launch the adapter process (AdapterConnector). The Client type offers typed
// helpers for the common requests.
//
// Framing errors, undecodable payloads of registered types, command mismatches and
// transport failures stop the session; requests still waiting for a response then
// fail with ErrSessionClosed. A response with success=false fails only its own
// request, with an *AdapterError.
package dap
