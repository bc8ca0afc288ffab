/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceCounterStartsAtZero(t *testing.T) {
	t.Parallel()

	counter := newSequenceCounter()
	assert.Equal(t, 0, counter.Current())
	assert.Equal(t, 0, counter.Next())
	assert.Equal(t, 1, counter.Next())
	assert.Equal(t, 2, counter.Current())
}

func TestSequenceCounterConcurrentUse(t *testing.T) {
	t.Parallel()

	const workers = 8
	const perWorker = 100

	counter := newSequenceCounter()
	seen := make(chan int, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seen <- counter.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for seq := range seen {
		assert.False(t, unique[seq], "sequence number %d was handed out twice", seq)
		unique[seq] = true
	}
	assert.Len(t, unique, workers*perWorker)
}

func TestTrackerResolve(t *testing.T) {
	t.Parallel()

	tracker := newRequestTracker()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tracker.timeSource = func() time.Time { return created }

	seq := tracker.NextSeq()
	pr, trackErr := tracker.Track(seq, "initialize", nil)
	require.NoError(t, trackErr)
	assert.Equal(t, created, pr.Created)
	assert.Equal(t, 1, tracker.Len())

	resolved, resolveErr := tracker.Resolve(seq, "initialize")
	require.NoError(t, resolveErr)
	assert.Same(t, pr, resolved)
	assert.Equal(t, 0, tracker.Len())

	t.Run("second resolve fails", func(t *testing.T) {
		_, again := tracker.Resolve(seq, "initialize")
		require.ErrorIs(t, again, ErrUnknownRequestSeq)
		assert.False(t, IsSessionFatal(again))
	})
}

func TestTrackerRejectsDuplicateSeq(t *testing.T) {
	t.Parallel()

	tracker := newRequestTracker()
	_, trackErr := tracker.Track(4, "next", nil)
	require.NoError(t, trackErr)

	_, dupErr := tracker.Track(4, "pause", nil)
	require.ErrorIs(t, dupErr, ErrDuplicateSeq)
	assert.Equal(t, 1, tracker.Len())
}

func TestTrackerUnknownSeq(t *testing.T) {
	t.Parallel()

	_, resolveErr := newRequestTracker().Resolve(99, "threads")

	var unknownErr *UnknownRequestSeqError
	require.ErrorAs(t, resolveErr, &unknownErr)
	assert.Equal(t, 99, unknownErr.RequestSeq)
	assert.Equal(t, "threads", unknownErr.Command)
}

func TestTrackerForget(t *testing.T) {
	t.Parallel()

	tracker := newRequestTracker()
	_, trackErr := tracker.Track(0, "launch", nil)
	require.NoError(t, trackErr)

	assert.NotNil(t, tracker.Forget(0))
	assert.Nil(t, tracker.Forget(0))
	assert.Equal(t, 0, tracker.Len())
}

func TestTrackerDrainWithError(t *testing.T) {
	t.Parallel()

	tracker := newRequestTracker()
	var calls []*Call
	for _, command := range []string{"threads", "stackTrace", "scopes"} {
		seq := tracker.NextSeq()
		call := newCall(seq, command, &dap.ThreadsRequest{}, time.Now())
		_, trackErr := tracker.Track(seq, command, call)
		require.NoError(t, trackErr)
		calls = append(calls, call)
	}

	drainErr := errors.New("gone")
	assert.Equal(t, 3, tracker.DrainWithError(drainErr))
	assert.Equal(t, 0, tracker.Len())

	for _, call := range calls {
		resp, waitErr := call.Wait(context.Background())
		assert.Nil(t, resp)
		assert.ErrorIs(t, waitErr, drainErr)
	}
}

func TestTrackerAbandon(t *testing.T) {
	t.Parallel()

	tracker := newRequestTracker()
	seq := tracker.NextSeq()
	_, trackErr := tracker.Track(seq, "threads", nil)
	require.NoError(t, trackErr)

	assert.True(t, tracker.Abandon(seq))
	assert.Equal(t, 0, tracker.Len(), "abandoned requests are not counted")
	assert.False(t, tracker.Abandon(99))

	// The late response still resolves the entry, once.
	pr, resolveErr := tracker.Resolve(seq, "threads")
	require.NoError(t, resolveErr)
	assert.Equal(t, seq, pr.Seq)

	_, resolveErr = tracker.Resolve(seq, "threads")
	require.ErrorIs(t, resolveErr, ErrUnknownRequestSeq)
}

func TestCallFinishesOnce(t *testing.T) {
	t.Parallel()

	call := newCall(0, "threads", &dap.ThreadsRequest{}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, waitErr := call.Wait(ctx)
	require.ErrorIs(t, waitErr, context.DeadlineExceeded)

	resp := &dap.ThreadsResponse{}
	assert.True(t, call.finish(resp, nil))
	assert.False(t, call.finish(nil, errors.New("late")))

	select {
	case <-call.Done():
	default:
		require.Fail(t, "call should be done")
	}

	got, gotErr := call.Wait(context.Background())
	require.NoError(t, gotErr)
	assert.Same(t, resp, got)
}
