/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	godap "github.com/google/go-dap"

	"github.com/microsoft/dap-client/internal/dap"
)

// newTerminalLauncher returns a launcher for runInTerminal requests. There is no terminal
// to open, so the process runs as a child of the client and shares its standard streams.
func newTerminalLauncher(log logr.Logger) dap.TerminalLauncher {
	return func(_ context.Context, args godap.RunInTerminalRequestArguments) (int, int, error) {
		if len(args.Args) == 0 {
			return 0, 0, errors.New("runInTerminal request has no command")
		}

		// The process must outlive the request, so it is not bound to the request context.
		cmd := exec.Command(args.Args[0], args.Args[1:]...)
		cmd.Dir = args.Cwd
		cmd.Env = terminalEnv(os.Environ(), args.Env)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if startErr := cmd.Start(); startErr != nil {
			return 0, 0, fmt.Errorf("could not start '%s': %w", args.Args[0], startErr)
		}

		pid := cmd.Process.Pid
		log.Info("Started process for runInTerminal request", "pid", pid, "command", args.Args[0], "title", args.Title)

		go func() {
			waitErr := cmd.Wait()
			log.V(1).Info("runInTerminal process exited", "pid", pid, "exitCode", cmd.ProcessState.ExitCode(), "error", waitErr)
		}()

		return pid, 0, nil
	}
}

// terminalEnv applies the environment changes of a runInTerminal request to base.
// A null value removes the variable.
func terminalEnv(base []string, changes map[string]any) []string {
	if len(changes) == 0 {
		return base
	}

	values := make(map[string]string, len(base))
	for _, entry := range base {
		name, value, _ := strings.Cut(entry, "=")
		values[name] = value
	}

	for name, value := range changes {
		switch v := value.(type) {
		case nil:
			delete(values, name)
		case string:
			values[name] = v
		default:
			values[name] = fmt.Sprint(v)
		}
	}

	env := make([]string, 0, len(values))
	for name, value := range values {
		env = append(env, name+"="+value)
	}
	sort.Strings(env)
	return env
}
