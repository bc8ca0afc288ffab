/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/dap-client/pkg/resiliency"
)

const (
	DAP_CLIENT_DIAGNOSTICS_LOG_FOLDER = "DAP_CLIENT_DIAGNOSTICS_LOG_FOLDER" // Folder to write diagnostics logs to (defaults to a temp folder)
	DAP_CLIENT_DIAGNOSTICS_LOG_LEVEL  = "DAP_CLIENT_DIAGNOSTICS_LOG_LEVEL"  // Log level to include in diagnostics logs (defaults to none)
	DAP_CLIENT_LOG_FILE_NAME_SUFFIX   = "DAP_CLIENT_LOG_FILE_NAME_SUFFIX"   // Suffix to append to the log file name (defaults to process ID)

	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"

	permissionOnlyOwnerReadWrite         fs.FileMode = 0600
	permissionOnlyOwnerReadWriteTraverse fs.FileMode = 0700
)

var (
	defaultLogPath = filepath.Join(os.TempDir(), "dap-client", "logs")
	startTime      = time.Now()
)

type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New logger implementation to handle logging to stderr/diagnostics log
func New(name string) *Logger {
	// Format console output to be human readable
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Honor Windows line endings for logs if appropriate
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = "\r\n"
	}
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	consoleAtomicLevel := zap.NewAtomicLevel()

	// Stdout belongs to the program output (and to the adapter in stdio mode), so logs go to stderr
	consoleLog := zapcore.Lock(os.Stderr)

	cores := []zapcore.Core{}
	// Add a stderr console logger for log output (with a minimum level set by verbosity)
	cores = append(cores, zapcore.NewCore(consoleEncoder, consoleLog, consoleAtomicLevel))

	var diagnosticsLogErr error
	// Determine if a diagnostics log is enabled
	if logCore, err := getDiagnosticsLogCore(name, encoderConfig); err != nil {
		// Ignore the error if diagnostics log isn't enabled
		if !errors.Is(err, errDiagnosticsLogNotEnabled) {
			diagnosticsLogErr = err
		}
	} else {
		// Add the diagnostics log to the list of outputs
		cores = append(cores, logCore)
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))

	logger := zapr.NewLogger(zapLogger).WithName(name)

	if diagnosticsLogErr != nil {
		// If there was an error setting up the diagnostics log, write it to the log output and stderr
		logger.Error(diagnosticsLogErr, "failed to enable diagnostics log output")
		fmt.Fprintf(os.Stderr, "failed to enable diagnostics log output: %v\n", diagnosticsLogErr)
	}

	return &Logger{
		Logger:      logger,
		name:        name,
		atomicLevel: consoleAtomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) WithName(name string) *Logger {
	l.Logger = l.Logger.WithName(name)
	return l
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Level() zapcore.Level {
	return l.atomicLevel.Level()
}

func (l *Logger) Flush() {
	l.flush()
}

// Add verbosity flag to enable setting stderr log levels
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(func(level zapcore.Level) {
		l.SetLevel(level)
	})
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "Logging verbosity level (e.g. -v=debug). Can be one of 'debug', 'info', or 'error', or any positive integer corresponding to increasing levels of debug verbosity. Level 1 and above include the DAP message traffic.")
}

func getDiagnosticsLogCore(name string, encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	logLevel, err := GetDiagnosticsLogLevel()
	if err != nil {
		return nil, err
	}

	logFolder, err := EnsureDiagnosticsLogsFolder()
	if err != nil {
		return nil, err
	}

	logFile, err := createDiagnosticsLogFile(logFolder, name)
	if err != nil {
		return nil, err
	}

	// The diagnostics log is meant for tools, so it is written as JSON.
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zap.NewAtomicLevelAt(logLevel)), nil
}

// createDiagnosticsLogFile creates <name>-<start time>-<suffix>.log in the folder.
// The suffix is the process ID unless DAP_CLIENT_LOG_FILE_NAME_SUFFIX is set. A fixed suffix
// can collide with an existing file, so a numbered variant of the name is tried next.
func createDiagnosticsLogFile(folder, name string) (*os.File, error) {
	suffix := os.Getenv(DAP_CLIENT_LOG_FILE_NAME_SUFFIX)
	if suffix == "" {
		suffix = strconv.Itoa(os.Getpid())
	}
	baseName := fmt.Sprintf("%s-%d-%s", name, startTime.UnixMilli(), suffix)

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(2*time.Second),
	)

	attempt := 0
	logFile, err := resiliency.RetryGet(context.Background(), b, func() (*os.File, error) {
		fileName := baseName + ".log"
		if attempt > 0 {
			fileName = fmt.Sprintf("%s-%d.log", baseName, attempt)
		}
		attempt++

		f, openErr := os.OpenFile(filepath.Join(folder, fileName), os.O_RDWR|os.O_CREATE|os.O_EXCL, permissionOnlyOwnerReadWrite)
		if openErr != nil && !errors.Is(openErr, fs.ErrExist) {
			return nil, resiliency.Permanent(openErr)
		}
		return f, openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	return logFile, nil
}

// EnsureDiagnosticsLogsFolder returns the folder for diagnostics logs, creating it if needed.
func EnsureDiagnosticsLogsFolder() (string, error) {
	logFolder := os.Getenv(DAP_CLIENT_DIAGNOSTICS_LOG_FOLDER)
	if logFolder == "" {
		logFolder = defaultLogPath
	}

	info, err := os.Stat(logFolder)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkdirErr := os.MkdirAll(logFolder, permissionOnlyOwnerReadWriteTraverse); mkdirErr != nil {
			return "", fmt.Errorf("failed to create the diagnostics log folder '%s': %w", logFolder, mkdirErr)
		}
	case err != nil:
		return "", fmt.Errorf("failed to verify the existence of the diagnostics log folder '%s': %w", logFolder, err)
	case !info.IsDir():
		return "", fmt.Errorf("'%s' is not a directory and cannot be used as a log folder", logFolder)
	}

	return logFolder, nil
}

var errDiagnosticsLogNotEnabled = errors.New("diagnostics log not enabled")

// GetDiagnosticsLogLevel returns the level set by DAP_CLIENT_DIAGNOSTICS_LOG_LEVEL.
func GetDiagnosticsLogLevel() (zapcore.Level, error) {
	value, found := os.LookupEnv(DAP_CLIENT_DIAGNOSTICS_LOG_LEVEL)
	if !found || value == "" {
		return zapcore.InvalidLevel, errDiagnosticsLogNotEnabled
	}

	logLevel, err := StringToLevel(value, zapcore.ErrorLevel)
	if err != nil {
		return zapcore.InvalidLevel, fmt.Errorf("invalid %s value '%s': %w", DAP_CLIENT_DIAGNOSTICS_LOG_LEVEL, value, err)
	}

	return logLevel, nil
}
