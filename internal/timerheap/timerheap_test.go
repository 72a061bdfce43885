package timerheap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapFiresInDeadlineOrder(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	var mu sync.Mutex
	var fired []string

	done := make(chan struct{}, 3)
	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	h.Schedule(30*time.Millisecond, record("third"))
	h.Schedule(10*time.Millisecond, record("first"))
	h.Schedule(20*time.Millisecond, record("second"))

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for timer %d to fire", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second", "third"}, fired)
}

func TestEntryCancelPreventsFire(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	fired := make(chan struct{}, 1)
	e := h.Schedule(20*time.Millisecond, func() { fired <- struct{}{} })
	e.Cancel()

	select {
	case <-fired:
		t.Fatalf("canceled entry fired anyway")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestHeapLenTracksPending(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.Len())

	h.Schedule(time.Hour, func() {})
	h.Schedule(time.Hour, func() {})
	assert.Equal(t, 2, h.Len())
}
