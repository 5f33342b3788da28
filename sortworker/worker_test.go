package sortworker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorker_CoalescesSupersededRequests mirrors scenario S5: a second
// request arrives while the worker is busy, and a third arrives before the
// second can even start. Only one further sort should run, and it should
// reflect the third request's buffer.
func TestWorker_CoalescesSupersededRequests(t *testing.T) {
	w := New(0)
	defer w.Dispose()

	out := make([]int, OrderingGranularity)
	started := make(chan struct{})
	release := make(chan struct{})

	firstDepth := []uint32{visibleBit | 1}
	err := w.Submit(1, firstDepth, out, func(active int, err error) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	<-started

	secondDepth := []uint32{visibleBit | 2}
	require.NoError(t, w.Submit(1, secondDepth, out, func(active int, err error) {}))

	thirdDepth := []uint32{visibleBit | 3}
	var mu sync.Mutex
	var lastSeenDepth []uint32
	done := make(chan struct{}, 1)
	require.NoError(t, w.Submit(1, thirdDepth, out, func(active int, err error) {
		mu.Lock()
		lastSeenDepth = thirdDepth
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}))

	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coalesced sort never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, thirdDepth, lastSeenDepth)
}

func TestWorker_DisposedRejectsSubmit(t *testing.T) {
	w := New(0)
	w.Dispose()

	err := w.Submit(0, nil, make([]int, OrderingGranularity), nil)
	require.Error(t, err)
	var swErr *Error
	require.ErrorAs(t, err, &swErr)
	assert.Equal(t, Disposed, swErr.Kind)
}
