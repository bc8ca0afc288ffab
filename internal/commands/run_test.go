/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/dap-client/internal/dap"
	"github.com/microsoft/dap-client/pkg/logger"
	"github.com/microsoft/dap-client/pkg/testutil"
)

// serveDebuggee accepts one connection and plays a debug adapter whose debuggee
// prints a line, hits a breakpoint once and exits with exitCode.
// The launch response is held back until configuration is done.
func serveDebuggee(t *testing.T, listener net.Listener, exitCode int) {
	conn, acceptErr := listener.Accept()
	if acceptErr != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	seq := 1
	send := func(msg godap.Message) {
		switch m := msg.(type) {
		case godap.ResponseMessage:
			m.GetResponse().Seq = seq
			m.GetResponse().Type = "response"
		case godap.EventMessage:
			m.GetEvent().Seq = seq
			m.GetEvent().Type = "event"
		}
		seq++
		assert.NoError(t, godap.WriteProtocolMessage(conn, msg))
	}
	reply := func(req *godap.Request) godap.Response {
		return godap.Response{RequestSeq: req.Seq, Command: req.Command, Success: true}
	}

	var launch *godap.LaunchRequest
	for {
		msg, readErr := godap.ReadProtocolMessage(reader)
		if readErr != nil {
			return
		}

		switch req := msg.(type) {
		case *godap.InitializeRequest:
			send(&godap.InitializeResponse{Response: reply(&req.Request), Body: godap.Capabilities{SupportsConfigurationDoneRequest: true}})
			send(&godap.InitializedEvent{Event: godap.Event{Event: "initialized"}})

		case *godap.LaunchRequest:
			launch = req

		case *godap.SetBreakpointsRequest:
			var breakpoints []godap.Breakpoint
			for _, bp := range req.Arguments.Breakpoints {
				breakpoints = append(breakpoints, godap.Breakpoint{Verified: true, Line: bp.Line})
			}
			send(&godap.SetBreakpointsResponse{Response: reply(&req.Request), Body: godap.SetBreakpointsResponseBody{Breakpoints: breakpoints}})

		case *godap.ConfigurationDoneRequest:
			send(&godap.ConfigurationDoneResponse{Response: reply(&req.Request)})
			if assert.NotNil(t, launch, "launch must be sent before configurationDone") {
				assert.JSONEq(t, `{"program":"/app/main","stopOnEntry":false}`, string(launch.Arguments))
				send(&godap.LaunchResponse{Response: reply(&launch.Request)})
			}
			send(&godap.OutputEvent{Event: godap.Event{Event: "output"}, Body: godap.OutputEventBody{Category: "stdout", Output: "hello from debuggee\n"}})
			send(&godap.OutputEvent{Event: godap.Event{Event: "output"}, Body: godap.OutputEventBody{Category: "telemetry", Output: "secret\n"}})
			send(&godap.StoppedEvent{Event: godap.Event{Event: "stopped"}, Body: godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1}})

		case *godap.StackTraceRequest:
			send(&godap.StackTraceResponse{Response: reply(&req.Request), Body: godap.StackTraceResponseBody{
				StackFrames: []godap.StackFrame{{Id: 1, Name: "main.main", Line: 12, Source: &godap.Source{Path: "/app/main.go"}}},
				TotalFrames: 1,
			}})

		case *godap.ContinueRequest:
			send(&godap.ContinueResponse{Response: reply(&req.Request), Body: godap.ContinueResponseBody{AllThreadsContinued: true}})
			send(&godap.ExitedEvent{Event: godap.Event{Event: "exited"}, Body: godap.ExitedEventBody{ExitCode: exitCode}})
			send(&godap.TerminatedEvent{Event: godap.Event{Event: "terminated"}})

		case *godap.DisconnectRequest:
			send(&godap.DisconnectResponse{Response: reply(&req.Request)})
			return
		}
	}
}

func runCommandForTest(t *testing.T, args ...string) (string, error) {
	ctx, _ := testutil.GetTestContext(t, 20*time.Second)

	log := logger.New("dap-client-test")
	log.SetLevel(zapcore.ErrorLevel)

	root, rootErr := NewRootCommand(log)
	require.NoError(t, rootErr)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)

	runErr := root.ExecuteContext(ctx)
	return out.String(), runErr
}

func TestRunCommandDebugSession(t *testing.T) {
	t.Parallel()

	for _, threaded := range []bool{false, true} {
		threaded := threaded
		name := "cooperative"
		if threaded {
			name = "threaded"
		}

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, listenErr)
			defer listener.Close()
			go serveDebuggee(t, listener, 0)

			args := []string{"run", "--address", listener.Addr().String(), "--program", "/app/main", "--breakpoint", "/app/main.go:12"}
			if threaded {
				args = append(args, "--threaded")
			}

			out, runErr := runCommandForTest(t, args...)
			require.NoError(t, runErr)
			assert.Equal(t, "Breakpoint /app/main.go:12 verified\n"+
				"hello from debuggee\n"+
				"Stopped (breakpoint) on thread 1\n"+
				"  at main.main (/app/main.go:12)\n"+
				"Debuggee exited with code 0\n"+
				"Debug session terminated\n", out)
		})
	}
}

func TestRunCommandReportsDebuggeeExitCode(t *testing.T) {
	t.Parallel()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	defer listener.Close()
	go serveDebuggee(t, listener, 3)

	out, runErr := runCommandForTest(t, "run", "--address", listener.Addr().String(), "--program", "/app/main")
	require.EqualError(t, runErr, "debuggee exited with code 3")
	assert.Contains(t, out, "Debuggee exited with code 3")
}

func TestRunCommandValidatesFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
		err  string
	}{
		{"no adapter", []string{"run"}, errNoAdapter.Error()},
		{"two adapters", []string{"run", "--address", "127.0.0.1:1", "--", "dlv", "dap"}, "only one of"},
		{"bad request", []string{"run", "--address", "127.0.0.1:1", "--request", "debug"}, "invalid --request value"},
		{"bad arguments", []string{"run", "--address", "127.0.0.1:1", "--arguments", "{"}, "--arguments is not valid JSON"},
		{"bad breakpoint", []string{"run", "--address", "127.0.0.1:1", "-b", "main.go"}, "expected file:line"},
		{"missing adapter config", []string{"run", "--adapter-config", filepath.Join(os.TempDir(), "dap-client-no-such-file.json")}, "failed to read debug adapter configuration"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, runErr := runCommandForTest(t, tc.args...)
			require.ErrorContains(t, runErr, tc.err)
		})
	}
}

func TestRunCommandConnectionTimeout(t *testing.T) {
	t.Parallel()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, runErr := runCommandForTest(t, "run", "--address", address, "--connection-timeout", "200ms")
	require.ErrorIs(t, runErr, dap.ErrAdapterConnectionTimeout)
}

func TestParseBreakpoints(t *testing.T) {
	t.Parallel()

	files, byFile, parseErr := parseBreakpoints([]string{"b.go:3", `C:\src\a.go:10`, "b.go:1"})
	require.NoError(t, parseErr)
	assert.Equal(t, []string{`C:\src\a.go`, "b.go"}, files)
	assert.Equal(t, []int{3, 1}, byFile["b.go"])
	assert.Equal(t, []int{10}, byFile[`C:\src\a.go`])

	for _, invalid := range []string{"main.go", ":12", "main.go:", "main.go:zero", "main.go:0"} {
		_, _, parseErr = parseBreakpoints([]string{invalid})
		assert.Error(t, parseErr, invalid)
	}
}

func TestStartArguments(t *testing.T) {
	t.Parallel()

	args, argsErr := (&runFlags{program: "/bin/app", stopOnEntry: true}).startArguments()
	require.NoError(t, argsErr)
	assert.JSONEq(t, `{"program":"/bin/app","stopOnEntry":true}`, string(args))

	args, argsErr = (&runFlags{program: "ignored", arguments: `{"processId":42}`}).startArguments()
	require.NoError(t, argsErr)
	assert.JSONEq(t, `{"processId":42}`, string(args))
}

func TestTerminalEnv(t *testing.T) {
	t.Parallel()

	env := terminalEnv([]string{"HOME=/home/me", "DROP=1", "KEEP=yes"}, map[string]any{
		"DROP":  nil,
		"HOME":  "/tmp",
		"LEVEL": 3,
	})
	assert.Equal(t, []string{"HOME=/tmp", "KEEP=yes", "LEVEL=3"}, env)

	base := []string{"A=1"}
	assert.Equal(t, base, terminalEnv(base, nil))
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, runErr := runCommandForTest(t, "version")
	require.NoError(t, runErr)
	assert.Contains(t, out, `"version":`)
}
