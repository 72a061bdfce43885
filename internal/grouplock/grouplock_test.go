package grouplock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRefCountSafety is property P7: no group-locked object is freed
// while its reference count is nonzero.
func TestRefCountSafety(t *testing.T) {
	l := New()
	var destroyed bool
	l.AddDestroyHandler(func() { destroyed = true })

	l.AddRef()
	l.AddRef()
	require.EqualValues(t, 3, l.RefCount())

	l.Release()
	assert.False(t, destroyed)
	l.Release()
	assert.False(t, destroyed)

	l.Release() // drops the initial reference
	assert.True(t, destroyed)
	assert.True(t, l.Destroyed())
}

func TestDestroyHandlersRunInReverseOrder(t *testing.T) {
	l := New()
	var order []int
	l.AddDestroyHandler(func() { order = append(order, 1) })
	l.AddDestroyHandler(func() { order = append(order, 2) })
	l.AddDestroyHandler(func() { order = append(order, 3) })

	l.Release()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestAddDestroyHandlerAfterDestroyRunsImmediately(t *testing.T) {
	l := New()
	l.Release()

	var ran bool
	l.AddDestroyHandler(func() { ran = true })
	assert.True(t, ran)
}

func TestConcurrentRefCounting(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		l.AddRef()
		go func() {
			defer wg.Done()
			l.Release()
		}()
	}
	wg.Wait()
	assert.False(t, l.Destroyed())
	l.Release()
	assert.True(t, l.Destroyed())
}

func TestChainAliveness(t *testing.T) {
	c := NewChain()
	assert.True(t, c.Alive())
	c.MarkDead()
	assert.False(t, c.Alive())
}
