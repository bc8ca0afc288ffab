/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// ErrPanic is wrapped by every error returned by MakePanicError.
var ErrPanic = errors.New("goroutine panicked")

// Logs a panic value and associated call stack and returns it as a permanent error.
// Returns nil if panicVal is nil, so it can be called with the result of recover() unconditionally.
func MakePanicError(panicVal any, log logr.Logger) error {
	if panicVal == nil {
		return nil
	}

	var panicErr error
	if err, isError := panicVal.(error); isError {
		panicErr = fmt.Errorf("%w: %w", ErrPanic, err)
	} else {
		panicErr = fmt.Errorf("%w: %v", ErrPanic, panicVal)
	}

	log.Error(panicErr, "A goroutine ended prematurely due to panic", "stack", string(debug.Stack()))

	var permanent *backoff.PermanentError
	if errors.As(panicErr, &permanent) {
		return panicErr
	}
	return Permanent(panicErr)
}
