/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"flag"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/dap-client/pkg/logger"
)

// Sets the console log level of test loggers, e.g. DAP_CLIENT_TEST_LOG_LEVEL=2 to include DAP message traffic.
const DAP_CLIENT_TEST_LOG_LEVEL = "DAP_CLIENT_TEST_LOG_LEVEL"

func NewLogForTesting(name string) logr.Logger {
	log := logger.New(name)
	log.SetLevel(zapcore.ErrorLevel)
	if !flag.Parsed() {
		flag.Parse() // Needed to test if verbose flag was present.
	}
	if testing.Verbose() {
		log.SetLevel(zapcore.DebugLevel)
	}
	if levelStr, found := os.LookupEnv(DAP_CLIENT_TEST_LOG_LEVEL); found {
		if level, err := logger.StringToLevel(levelStr, zapcore.ErrorLevel); err == nil {
			log.SetLevel(level)
		}
	}
	retval := log.Logger.WithValues("test", true)
	return retval
}
