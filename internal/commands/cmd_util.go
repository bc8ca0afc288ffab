/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"errors"
	"os"
	"runtime"

	"github.com/microsoft/dap-client/internal/dap"
	"github.com/microsoft/dap-client/pkg/logger"
)

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func WithNewline(b []byte) []byte {
	if IsWindows() {
		b = append(b, '\r')
	}
	b = append(b, '\n')
	return b
}

// ErrorExit reports a command failure on stderr, flushes the log and exits with the given code.
func ErrorExit(log *logger.Logger, err error, code int) {
	log.Error(err, "Command failed", "sessionFatal", dap.IsSessionFatal(err), "adapterError", dap.IsAdapterError(err))
	_, _ = os.Stderr.Write(WithNewline([]byte(errorMessage(err))))
	log.Flush()
	os.Exit(code)
}

// errorMessage returns the text shown to the user for a command error.
// Adapter errors already say which request failed, so their chain is not repeated.
func errorMessage(err error) string {
	var adapterErr *dap.AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Error()
	}
	return err.Error()
}
