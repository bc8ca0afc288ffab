/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Overrides the timeout of every test context, e.g. DAP_CLIENT_TEST_CONTEXT_TIMEOUT=10m when debugging tests.
const DAP_CLIENT_TEST_CONTEXT_TIMEOUT = "DAP_CLIENT_TEST_CONTEXT_TIMEOUT"

// Returns a context that is done when the test times out, or after testTimeout, whichever comes first.
// Zero testTimeout means only the test deadline (if any) applies.
// The context is cancelled when the test completes.
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	if timeoutStr, found := os.LookupEnv(DAP_CLIENT_TEST_CONTEXT_TIMEOUT); found {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			panic(fmt.Sprintf("Context timeout value '%s' is invalid: %s", timeoutStr, err.Error()))
		}
		testTimeout = timeout
	}

	var deadline time.Time
	if testDeadline, haveDeadline := t.Deadline(); haveDeadline {
		deadline = testDeadline
	}
	if testTimeout > 0 {
		timeoutDeadline := time.Now().Add(testTimeout)
		if deadline.IsZero() || timeoutDeadline.Before(deadline) {
			deadline = timeoutDeadline
		}
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if deadline.IsZero() {
		ctx, cancel = context.WithCancel(context.Background())
	} else {
		ctx, cancel = context.WithDeadline(context.Background(), deadline)
	}

	t.Cleanup(cancel)
	return ctx, cancel
}
