/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/microsoft/dap-client/pkg/resiliency"
)

// PortPlaceholder is the placeholder in adapter args that will be replaced with allocated port.
const PortPlaceholder = "{{port}}"

const (
	dialInitialInterval = 50 * time.Millisecond
	dialMaxInterval     = time.Second

	// adapterExitGracePeriod is how long the adapter gets to exit on its own after its channel is closed.
	adapterExitGracePeriod = 3 * time.Second
)

var (
	// ErrInvalidAdapterConfig is returned when the debug adapter configuration is invalid.
	ErrInvalidAdapterConfig = errors.New("invalid debug adapter configuration")

	// ErrAdapterConnectionTimeout is returned when the adapter fails to connect within the timeout.
	ErrAdapterConnectionTimeout = errors.New("debug adapter connection timeout")

	// ErrAdapterExited is returned when the adapter process exits before a connection is established.
	ErrAdapterExited = errors.New("debug adapter process exited before connection could be established")
)

// Connector establishes the channel to a debug adapter.
type Connector interface {
	Connect(ctx context.Context) (Channel, error)
}

func newChannel(ctx context.Context, rwc io.ReadWriteCloser, threaded bool) Channel {
	if threaded {
		return NewQueuedChannel(ctx, rwc)
	}
	return NewStreamChannel(rwc)
}

// TCPConnector connects to a debug adapter that is already listening on a TCP address,
// e.g. one started with "dlv dap --listen".
type TCPConnector struct {
	// Address is the host:port of the adapter.
	Address string

	// Threaded selects the thread-based channel variant; otherwise the cooperative variant is used.
	Threaded bool

	// Timeout bounds how long connection attempts are retried.
	// If zero, DefaultAdapterConnectionTimeout is used.
	Timeout time.Duration

	// Logger is the logger for connection attempts. If nil, logging is disabled.
	Logger logr.Logger
}

func (c *TCPConnector) Connect(ctx context.Context) (Channel, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultAdapterConnectionTimeout
	}

	log := c.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	conn, dialErr := dialWithRetry(ctx, c.Address, timeout, nil, log)
	if dialErr != nil {
		return nil, dialErr
	}

	log.Info("Connected to debug adapter", "address", c.Address)
	return newChannel(ctx, conn, c.Threaded), nil
}

// dialWithRetry dials the address with exponential back-off until the timeout elapses.
// Retrying covers the window between the adapter starting and it listening; it is not a reconnection mechanism.
func dialWithRetry(ctx context.Context, address string, timeout time.Duration, exited <-chan struct{}, log logr.Logger) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(dialInitialInterval),
		backoff.WithMaxInterval(dialMaxInterval),
		backoff.WithMaxElapsedTime(0),
	)

	var dialer net.Dialer
	conn, dialErr := resiliency.RetryGet(dialCtx, b, func() (net.Conn, error) {
		select {
		case <-exited:
			return nil, resiliency.Permanent(ErrAdapterExited)
		default:
		}

		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		if err != nil {
			log.V(1).Info("Debug adapter not reachable yet", "address", address, "error", err.Error())
		}
		return conn, err
	})

	switch {
	case dialErr == nil:
		return conn, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(dialErr, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: failed to connect to adapter at %s: %w", ErrAdapterConnectionTimeout, address, dialErr)
	default:
		return nil, dialErr
	}
}

// AdapterConnector launches a debug adapter process and connects to it.
// The process is stopped when the returned channel is closed, or when the context passed to Connect is done.
type AdapterConnector struct {
	Config DebugAdapterConfig

	// Threaded selects the thread-based channel variant; otherwise the cooperative variant is used.
	Threaded bool

	// Logger is the logger for the adapter process. Its stderr output is logged here.
	// If nil, logging is disabled.
	Logger logr.Logger
}

func (c *AdapterConnector) Connect(ctx context.Context) (Channel, error) {
	if validateErr := c.Config.Validate(); validateErr != nil {
		return nil, validateErr
	}

	log := c.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	switch c.Config.EffectiveMode() {
	case DebugAdapterModeTCPCallback:
		return c.connectTCPCallback(ctx, log)
	case DebugAdapterModeTCPConnect:
		return c.connectTCPConnect(ctx, log)
	default:
		return c.connectStdio(ctx, log)
	}
}

// connectStdio launches an adapter that speaks DAP over its stdin and stdout.
func (c *AdapterConnector) connectStdio(ctx context.Context, log logr.Logger) (Channel, error) {
	adapterStdin, clientStdin, stdinErr := os.Pipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", stdinErr)
	}

	clientStdout, adapterStdout, stdoutErr := os.Pipe()
	if stdoutErr != nil {
		closeAll(adapterStdin, clientStdin)
		return nil, fmt.Errorf("failed to create stdout pipe: %w", stdoutErr)
	}

	cmd := c.command(ctx, c.Config.Args, log)
	cmd.Stdin = adapterStdin
	cmd.Stdout = adapterStdout

	proc, startErr := startAdapter(cmd, log)
	// The child has its own copies of these now.
	closeAll(adapterStdin, adapterStdout)
	if startErr != nil {
		closeAll(clientStdin, clientStdout)
		return nil, startErr
	}

	log.Info("Launched debug adapter process (stdio mode)",
		"command", cmd.Args[0],
		"args", cmd.Args[1:],
		"pid", cmd.Process.Pid)

	var channel Channel
	if c.Threaded {
		channel = NewQueuedStdioChannel(ctx, clientStdout, clientStdin)
	} else {
		channel = NewStdioChannel(clientStdout, clientStdin)
	}

	return &adapterChannel{Channel: channel, process: proc}, nil
}

// connectTCPCallback starts a listener and launches an adapter that connects to it.
func (c *AdapterConnector) connectTCPCallback(ctx context.Context, log logr.Logger) (Channel, error) {
	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	if listenErr != nil {
		return nil, fmt.Errorf("failed to create listener: %w", listenErr)
	}
	defer listener.Close()

	listenerAddr := listener.Addr().String()
	log.Info("Listening for debug adapter callback", "address", listenerAddr)

	_, portStr, _ := net.SplitHostPort(listenerAddr)
	cmd := c.command(ctx, substitutePort(c.Config.Args, portStr), log)

	proc, startErr := startAdapter(cmd, log)
	if startErr != nil {
		return nil, startErr
	}

	log.Info("Launched debug adapter process (tcp-callback mode)",
		"command", cmd.Args[0],
		"args", cmd.Args[1:],
		"pid", cmd.Process.Pid,
		"listenAddress", listenerAddr)

	connCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			errCh <- acceptErr
			return
		}
		connCh <- conn
	}()

	timer := time.NewTimer(c.Config.GetConnectionTimeout())
	defer timer.Stop()

	select {
	case conn := <-connCh:
		log.Info("Debug adapter connected", "remoteAddr", conn.RemoteAddr().String())
		return &adapterChannel{Channel: newChannel(ctx, conn, c.Threaded), process: proc}, nil
	case acceptErr := <-errCh:
		proc.stop(0)
		return nil, fmt.Errorf("failed to accept adapter connection: %w", acceptErr)
	case <-proc.done:
		return nil, errors.Join(ErrAdapterExited, proc.exitError())
	case <-timer.C:
		proc.stop(0)
		return nil, ErrAdapterConnectionTimeout
	case <-ctx.Done():
		proc.stop(0)
		return nil, ctx.Err()
	}
}

// connectTCPConnect allocates a port, launches an adapter that listens on it, and connects to it.
func (c *AdapterConnector) connectTCPConnect(ctx context.Context, log logr.Logger) (Channel, error) {
	port, portErr := getFreePort()
	if portErr != nil {
		return nil, fmt.Errorf("failed to allocate port: %w", portErr)
	}

	portStr := strconv.Itoa(port)
	cmd := c.command(ctx, substitutePort(c.Config.Args, portStr), log)

	proc, startErr := startAdapter(cmd, log)
	if startErr != nil {
		return nil, startErr
	}

	log.Info("Launched debug adapter process (tcp-connect mode)",
		"command", cmd.Args[0],
		"args", cmd.Args[1:],
		"pid", cmd.Process.Pid,
		"port", port)

	addr := net.JoinHostPort("127.0.0.1", portStr)
	conn, dialErr := dialWithRetry(ctx, addr, c.Config.GetConnectionTimeout(), proc.done, log)
	if dialErr != nil {
		proc.stop(0)
		return nil, dialErr
	}

	log.Info("Connected to debug adapter", "address", addr)
	return &adapterChannel{Channel: newChannel(ctx, conn, c.Threaded), process: proc}, nil
}

func (c *AdapterConnector) command(ctx context.Context, args []string, log logr.Logger) *exec.Cmd {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = buildEnv(c.Config.Env)
	cmd.Stderr = &stderrLogWriter{log: log}
	// Do not wait forever for grandchildren that inherited stderr.
	cmd.WaitDelay = adapterExitGracePeriod
	return cmd
}

// adapterProcess is a running debug adapter process.
type adapterProcess struct {
	cmd  *exec.Cmd
	log  logr.Logger
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func startAdapter(cmd *exec.Cmd, log logr.Logger) (*adapterProcess, error) {
	if startErr := cmd.Start(); startErr != nil {
		return nil, fmt.Errorf("failed to start debug adapter: %w", startErr)
	}

	proc := &adapterProcess{
		cmd:  cmd,
		log:  log.WithValues("pid", cmd.Process.Pid),
		done: make(chan struct{}),
	}

	go func() {
		waitErr := cmd.Wait()
		proc.mu.Lock()
		proc.exitErr = waitErr
		proc.mu.Unlock()
		close(proc.done)

		if waitErr != nil {
			proc.log.V(1).Info("Debug adapter process exited with error", "exitCode", cmd.ProcessState.ExitCode(), "error", waitErr.Error())
		} else {
			proc.log.V(1).Info("Debug adapter process exited", "exitCode", cmd.ProcessState.ExitCode())
		}
	}()

	return proc, nil
}

func (p *adapterProcess) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// stop waits up to gracePeriod for the process to exit, then kills it.
func (p *adapterProcess) stop(gracePeriod time.Duration) {
	exited := resiliency.RunWithTimeout(func() { <-p.done }, gracePeriod)
	if exited {
		return
	}

	p.log.V(1).Info("Killing debug adapter process")
	if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		p.log.Error(killErr, "Failed to kill debug adapter process")
	}
	<-p.done
}

// adapterChannel is a channel to a launched adapter. Closing it also stops the adapter.
type adapterChannel struct {
	Channel

	process *adapterProcess
}

// Alive reports whether the adapter process is still running.
func (c *adapterChannel) Alive() bool {
	select {
	case <-c.process.done:
		return false
	default:
		return true
	}
}

func (c *adapterChannel) Close() error {
	closeErr := c.Channel.Close()
	// Adapters usually exit on their own once their connection is gone.
	c.process.stop(adapterExitGracePeriod)
	return closeErr
}

// substitutePort replaces {{port}} placeholder in args with the actual port.
func substitutePort(args []string, port string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = strings.ReplaceAll(arg, PortPlaceholder, port)
	}
	return result
}

// buildEnv builds the environment for the adapter process.
func buildEnv(vars []EnvVar) []string {
	env := os.Environ()
	// Clear GOFLAGS to avoid issues when launching Go tools (like dlv)
	env = append(env, "GOFLAGS=")
	for _, e := range vars {
		env = append(env, e.Name+"="+e.Value)
	}
	return env
}

// getFreePort asks the OS for an unused loopback TCP port.
// The port is released before the adapter binds it, so another process could grab it in between.
func getFreePort() (int, error) {
	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	if listenErr != nil {
		return 0, listenErr
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// stderrLogWriter logs adapter stderr output line by line.
type stderrLogWriter struct {
	log logr.Logger

	mu      sync.Mutex
	partial []byte
}

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.partial[:i]), "\r")
		w.partial = w.partial[i+1:]
		if line != "" {
			w.log.Info("Debug adapter stderr", "output", line)
		}
	}

	// Do not hold on to unbounded output without newlines.
	if len(w.partial) > DefaultReadChunkSize {
		w.log.Info("Debug adapter stderr", "output", string(w.partial))
		w.partial = nil
	}

	return len(p), nil
}

var (
	_ Connector = (*TCPConnector)(nil)
	_ Connector = (*AdapterConnector)(nil)
)
