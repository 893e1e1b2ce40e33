// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWindowInvariant checks that bytes reserved for sending never
// exceed the sum of every grant (initial window plus every subsequent
// add), and that an exhausted window parks the writer until credit
// arrives.
func TestWindowInvariant(t *testing.T) {
	w := &window{Cond: newCond(), win: 8}

	granted, err := w.reserve(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), granted)
	assert.Equal(t, uint32(4), w.win)

	granted, err = w.reserve(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), granted)
	assert.Equal(t, uint32(0), w.win)

	var wg sync.WaitGroup
	wg.Add(1)
	released := make(chan uint32, 1)
	go func() {
		defer wg.Done()
		g, err := w.reserve(4)
		assert.NoError(t, err)
		released <- g
	}()

	// Give the goroutine a chance to park on the empty window before the
	// grant arrives.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-released:
		t.Fatal("reserve returned before any credit was granted")
	default:
	}

	require.True(t, w.add(4))
	wg.Wait()
	assert.Equal(t, uint32(4), <-released)
	assert.Equal(t, uint32(0), w.win)
}

// TestWindowOverflowRejected ensures add() refuses a grant that would
// overflow the uint32 credit counter rather than silently wrapping.
func TestWindowOverflowRejected(t *testing.T) {
	w := &window{Cond: newCond(), win: ^uint32(0) - 1}
	assert.False(t, w.add(2))
}

// TestWindowCloseUnblocksReserve ensures a closed window releases any
// writer parked in reserve instead of hanging forever.
func TestWindowCloseUnblocksReserve(t *testing.T) {
	w := &window{Cond: newCond()}
	done := make(chan error, 1)
	go func() {
		_, err := w.reserve(1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	w.close()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("reserve did not unblock after close")
	}
}
