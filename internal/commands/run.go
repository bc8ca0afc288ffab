/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	godap "github.com/google/go-dap"
	"github.com/spf13/cobra"

	"github.com/microsoft/dap-client/internal/dap"
)

const (
	requestLaunch = "launch"
	requestAttach = "attach"

	// disconnectTimeout bounds the disconnect request sent when the session ends.
	disconnectTimeout = 5 * time.Second
)

var errNoAdapter = errors.New("one of --address, --adapter-config, or an adapter command after '--' is required")

type runFlags struct {
	address           string
	adapterConfig     string
	threaded          bool
	connectionTimeout time.Duration

	adapterID    string
	request      string
	program      string
	arguments    string
	stopOnEntry  bool
	breakpoints  []string
	autoContinue bool
}

func NewRunCommand(log logr.Logger) *cobra.Command {
	flags := &runFlags{}

	runCmd := &cobra.Command{
		Use:   "run [--address host:port | --adapter-config file | -- adapter-command [args...]]",
		Short: "Runs a debug session",
		Long: `Runs a debug session.

	Connects to the debug adapter, sends the launch (or attach) request, sets the breakpoints
	and prints the output and stop events of the debuggee until the session terminates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebugSession(cmd.Context(), cmd.OutOrStdout(), log.WithName("run"), flags, args)
		},
		Args: cobra.ArbitraryArgs,
	}

	runCmd.Flags().StringVar(&flags.address, "address", "", "The host:port of a debug adapter that is already listening.")
	runCmd.Flags().StringVar(&flags.adapterConfig, "adapter-config", "", "Path to a JSON file describing how to launch the debug adapter.")
	runCmd.Flags().BoolVar(&flags.threaded, "threaded", false, "Read from the adapter on a dedicated goroutine instead of the session loop.")
	runCmd.Flags().DurationVar(&flags.connectionTimeout, "connection-timeout", dap.DefaultAdapterConnectionTimeout, "How long to keep trying to connect to the debug adapter.")
	runCmd.Flags().StringVar(&flags.adapterID, "adapter-id", "go", "The adapter ID sent in the initialize request.")
	runCmd.Flags().StringVar(&flags.request, "request", requestLaunch, "The request that starts debugging: 'launch' or 'attach'.")
	runCmd.Flags().StringVar(&flags.program, "program", "", "The program to debug. Ignored if --arguments is set.")
	runCmd.Flags().StringVar(&flags.arguments, "arguments", "", "Adapter-specific launch or attach arguments, as a JSON object.")
	runCmd.Flags().BoolVar(&flags.stopOnEntry, "stop-on-entry", false, "Stop the debuggee at its entry point.")
	runCmd.Flags().StringArrayVarP(&flags.breakpoints, "breakpoint", "b", nil, "A breakpoint as file:line. May be repeated.")
	runCmd.Flags().BoolVar(&flags.autoContinue, "continue", true, "Continue the debuggee after it stops.")

	return runCmd
}

func (f *runFlags) connector(adapterArgs []string, log logr.Logger) (dap.Connector, error) {
	sources := 0
	for _, set := range []bool{f.address != "", f.adapterConfig != "", len(adapterArgs) > 0} {
		if set {
			sources++
		}
	}
	switch {
	case sources == 0:
		return nil, errNoAdapter
	case sources > 1:
		return nil, errors.New("only one of --address, --adapter-config, or an adapter command may be used")
	}

	switch {
	case f.address != "":
		return &dap.TCPConnector{
			Address:  f.address,
			Threaded: f.threaded,
			Timeout:  f.connectionTimeout,
			Logger:   log,
		}, nil

	case f.adapterConfig != "":
		config, loadErr := dap.LoadDebugAdapterConfig(f.adapterConfig)
		if loadErr != nil {
			return nil, loadErr
		}
		return &dap.AdapterConnector{Config: *config, Threaded: f.threaded, Logger: log}, nil

	default:
		return &dap.AdapterConnector{
			Config: dap.DebugAdapterConfig{
				Args: adapterArgs,
				Mode: dap.DebugAdapterModeStdio,
			},
			Threaded: f.threaded,
			Logger:   log,
		}, nil
	}
}

// startArguments returns the arguments of the launch or attach request.
func (f *runFlags) startArguments() (json.RawMessage, error) {
	if f.arguments != "" {
		if !json.Valid([]byte(f.arguments)) {
			return nil, fmt.Errorf("--arguments is not valid JSON")
		}
		return json.RawMessage(f.arguments), nil
	}

	args := map[string]any{"stopOnEntry": f.stopOnEntry}
	if f.program != "" {
		args["program"] = f.program
	}
	return json.Marshal(args)
}

// parseBreakpoints groups file:line breakpoints by file. Files are returned in sorted order.
func parseBreakpoints(entries []string) ([]string, map[string][]int, error) {
	byFile := make(map[string][]int)
	for _, entry := range entries {
		// The last colon separates the line, so Windows drive letters survive.
		i := strings.LastIndex(entry, ":")
		if i <= 0 || i == len(entry)-1 {
			return nil, nil, fmt.Errorf("invalid breakpoint '%s': expected file:line", entry)
		}

		line, parseErr := strconv.Atoi(entry[i+1:])
		if parseErr != nil || line <= 0 {
			return nil, nil, fmt.Errorf("invalid breakpoint '%s': line must be a positive number", entry)
		}

		file := entry[:i]
		byFile[file] = append(byFile[file], line)
	}

	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	return files, byFile, nil
}

func runDebugSession(ctx context.Context, out io.Writer, log logr.Logger, flags *runFlags, adapterArgs []string) error {
	if flags.request != requestLaunch && flags.request != requestAttach {
		return fmt.Errorf("invalid --request value '%s': must be '%s' or '%s'", flags.request, requestLaunch, requestAttach)
	}

	startArgs, argsErr := flags.startArguments()
	if argsErr != nil {
		return argsErr
	}

	files, breakpoints, bpErr := parseBreakpoints(flags.breakpoints)
	if bpErr != nil {
		return bpErr
	}

	connector, connectorErr := flags.connector(adapterArgs, log)
	if connectorErr != nil {
		return connectorErr
	}

	channel, connectErr := connector.Connect(ctx)
	if connectErr != nil {
		return fmt.Errorf("could not connect to the debug adapter: %w", connectErr)
	}

	session := dap.NewSession(channel, dap.SessionConfig{
		Logger:                log,
		ReverseRequestHandler: dap.RunInTerminalHandler(newTerminalLauncher(log)),
		ProtocolErrorHandler: func(err error) {
			log.Error(err, "Debug adapter violated the protocol")
		},
	})
	if startErr := session.Start(ctx); startErr != nil {
		return startErr
	}
	defer session.Stop()

	r := &sessionRunner{
		client:      dap.NewClient(session),
		out:         out,
		log:         log,
		flags:       flags,
		startArgs:   startArgs,
		files:       files,
		breakpoints: breakpoints,
	}
	return r.run(ctx)
}

// sessionRunner drives one debug session from initialization to termination.
type sessionRunner struct {
	client *dap.Client
	out    io.Writer
	log    logr.Logger

	flags       *runFlags
	startArgs   json.RawMessage
	files       []string
	breakpoints map[string][]int

	capabilities *godap.Capabilities
	startCall    *dap.Call
	exitCode     *int
}

func (r *sessionRunner) run(ctx context.Context) error {
	caps, initErr := r.client.Initialize(ctx, dap.DefaultInitializeArguments(r.flags.adapterID))
	if initErr != nil {
		return fmt.Errorf("initialize failed: %w", initErr)
	}
	r.capabilities = caps

	// Adapters may hold back the launch response until configuration is done,
	// so the response is awaited only after the initialized event was handled.
	var startReq godap.RequestMessage
	if r.flags.request == requestAttach {
		startReq = &godap.AttachRequest{Request: godap.Request{Command: requestAttach}, Arguments: r.startArgs}
	} else {
		startReq = &godap.LaunchRequest{Request: godap.Request{Command: requestLaunch}, Arguments: r.startArgs}
	}

	startCall, sendErr := r.client.Session().Send(ctx, startReq)
	if sendErr != nil {
		return sendErr
	}
	r.startCall = startCall

	eventsErr := r.processEvents(ctx)

	r.disconnect(ctx)

	if eventsErr != nil {
		return eventsErr
	}
	if r.exitCode != nil && *r.exitCode != 0 {
		return fmt.Errorf("debuggee exited with code %d", *r.exitCode)
	}
	return nil
}

// processEvents handles events until the debuggee terminates.
func (r *sessionRunner) processEvents(ctx context.Context) error {
	session := r.client.Session()
	startDone := r.startCall.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-startDone:
			if r.startCall.Err != nil {
				return fmt.Errorf("%s failed: %w", r.flags.request, r.startCall.Err)
			}
			startDone = nil

		case msg, ok := <-session.Events():
			if !ok {
				if sessionErr := session.Err(); sessionErr != nil {
					return fmt.Errorf("debug session failed: %w", sessionErr)
				}
				return errors.New("debug adapter closed the connection before the debuggee terminated")
			}

			done, handleErr := r.handleEvent(ctx, msg)
			if handleErr != nil || done {
				return handleErr
			}
		}
	}
}

func (r *sessionRunner) handleEvent(ctx context.Context, msg godap.Message) (bool, error) {
	switch event := msg.(type) {
	case *godap.InitializedEvent:
		return false, r.configure(ctx)

	case *godap.OutputEvent:
		if event.Body.Category != "telemetry" {
			_, _ = io.WriteString(r.out, event.Body.Output)
		}

	case *godap.StoppedEvent:
		return false, r.handleStopped(ctx, event)

	case *godap.BreakpointEvent:
		r.log.V(1).Info("Breakpoint changed", "reason", event.Body.Reason, "id", event.Body.Breakpoint.Id, "verified", event.Body.Breakpoint.Verified)

	case *godap.ExitedEvent:
		exitCode := event.Body.ExitCode
		r.exitCode = &exitCode
		fmt.Fprintf(r.out, "Debuggee exited with code %d\n", exitCode)

	case *godap.TerminatedEvent:
		fmt.Fprintln(r.out, "Debug session terminated")
		return true, nil

	case *dap.RawEvent:
		r.log.V(1).Info("Received custom event", "event", event.Event.Event, "body", string(event.Body))

	default:
		if e, isEvent := msg.(godap.EventMessage); isEvent {
			r.log.V(1).Info("Ignoring event", "event", e.GetEvent().Event)
		}
	}

	return false, nil
}

// configure sets the breakpoints and finishes the configuration phase.
func (r *sessionRunner) configure(ctx context.Context) error {
	for _, file := range r.files {
		set, bpErr := r.client.SetBreakpoints(ctx, file, r.breakpoints[file])
		if bpErr != nil {
			return fmt.Errorf("could not set breakpoints in '%s': %w", file, bpErr)
		}
		for _, bp := range set {
			state := "verified"
			if !bp.Verified {
				state = "unverified"
			}
			fmt.Fprintf(r.out, "Breakpoint %s:%d %s\n", file, bp.Line, state)
		}
	}

	if len(r.capabilities.ExceptionBreakpointFilters) > 0 {
		if excErr := r.client.SetExceptionBreakpoints(ctx, nil); excErr != nil {
			return excErr
		}
	}

	if r.capabilities.SupportsConfigurationDoneRequest {
		if doneErr := r.client.ConfigurationDone(ctx); doneErr != nil {
			return fmt.Errorf("configurationDone failed: %w", doneErr)
		}
	}

	return nil
}

func (r *sessionRunner) handleStopped(ctx context.Context, event *godap.StoppedEvent) error {
	threadID := event.Body.ThreadId
	fmt.Fprintf(r.out, "Stopped (%s) on thread %d\n", event.Body.Reason, threadID)

	stack, stackErr := r.client.StackTrace(ctx, threadID, 0, 1)
	switch {
	case stackErr != nil && dap.IsAdapterError(stackErr):
		r.log.Info("Could not get stack trace", "threadId", threadID, "error", stackErr.Error())
	case stackErr != nil:
		return stackErr
	case len(stack.StackFrames) > 0:
		frame := stack.StackFrames[0]
		location := "<unknown>"
		if frame.Source != nil && frame.Source.Path != "" {
			location = frame.Source.Path
		}
		fmt.Fprintf(r.out, "  at %s (%s:%d)\n", frame.Name, location, frame.Line)
	}

	if !r.flags.autoContinue {
		return nil
	}

	if _, continueErr := r.client.Continue(ctx, threadID); continueErr != nil {
		return fmt.Errorf("continue failed: %w", continueErr)
	}
	return nil
}

func (r *sessionRunner) disconnect(ctx context.Context) {
	session := r.client.Session()
	if session.State() != dap.StateRunning {
		return
	}

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	if disconnectErr := r.client.Disconnect(disconnectCtx, r.flags.request == requestLaunch); disconnectErr != nil {
		r.log.V(1).Info("Disconnect request failed", "error", disconnectErr.Error())
	}
}
