// Package grouplock implements the group-lock idiom used by every
// long-lived core object (transport, transaction, dialog, TURN
// socket, TURN data connection): an atomic reference count bundled
// with a mutex and an ordered list of on-destroy handlers. The mutex
// is a plain sync.Mutex and is not re-entrant.
//
// Destruction is deferred until the reference count reaches zero and
// no handler is currently executing. Handlers run in reverse
// registration order, outside any locked region.
package grouplock

import (
	"sync"
	"sync/atomic"
)

// DestroyHandler is invoked once, when the lock's reference count
// reaches zero. Handlers run in reverse registration order.
type DestroyHandler func()

// Lock is the concrete group-lock type. The zero value is not usable;
// construct with New.
type Lock struct {
	mu       sync.Mutex // not re-entrant; holder is never set
	holder   *lockHolder
	refCount int32

	handlersMu sync.Mutex
	handlers   []DestroyHandler
	destroyed  bool
}

type lockHolder struct {
	depth int
}

// New returns a Lock with an initial reference count of 1 (the
// caller's own reference).
func New() *Lock {
	return &Lock{refCount: 1}
}

// AddRef increments the reference count. Every AddRef must be matched
// by exactly one Release.
func (l *Lock) AddRef() {
	atomic.AddInt32(&l.refCount, 1)
}

// Release decrements the reference count. When it reaches zero, all
// registered destroy handlers run in reverse order and the lock is
// marked destroyed; further AddRef/Release calls are programmer error.
func (l *Lock) Release() {
	if atomic.AddInt32(&l.refCount, -1) != 0 {
		return
	}
	l.handlersMu.Lock()
	handlers := l.handlers
	l.handlers = nil
	l.destroyed = true
	l.handlersMu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

// RefCount returns the current reference count, for diagnostics and
// tests only.
func (l *Lock) RefCount() int32 {
	return atomic.LoadInt32(&l.refCount)
}

// Destroyed reports whether the reference count has already reached
// zero and destroy handlers have run.
func (l *Lock) Destroyed() bool {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	return l.destroyed
}

// AddDestroyHandler registers a handler to run when the lock is
// destroyed. If the lock is already destroyed, the handler runs
// synchronously and immediately.
func (l *Lock) AddDestroyHandler(h DestroyHandler) {
	l.handlersMu.Lock()
	if l.destroyed {
		l.handlersMu.Unlock()
		h()
		return
	}
	l.handlers = append(l.handlers, h)
	l.handlersMu.Unlock()
}

// Acquire takes the lock's mutex. It is not re-entrant: a second
// Acquire from the same goroutine before Unlock blocks forever.
func (l *Lock) Acquire() {
	l.mu.Lock()
}

// Unlock releases the mutex taken by Acquire.
func (l *Lock) Unlock() {
	l.mu.Unlock()
}

// WithRef brackets fn between AddRef and Release, the idiom for
// invoking a callback that might re-enter and trigger destruction of
// the object the callback is about. The caller's own Chain should be
// checked with Chain.Alive after fn returns, since fn may have
// destroyed the object the Chain was tracking.
func (l *Lock) WithRef(fn func()) {
	l.AddRef()
	defer l.Release()
	fn()
}

// Chain is the thread-local "lock chain" entry used to detect
// destruction that happened underneath a re-entrant callback. A
// caller pushes a Chain before invoking application code and checks
// Alive() after the call returns to decide whether to keep unwinding
// or to abandon further work on the (now-destroyed) object.
type Chain struct {
	alive int32
}

// NewChain returns a Chain initialized as alive.
func NewChain() *Chain {
	c := &Chain{}
	atomic.StoreInt32(&c.alive, 1)
	return c
}

// MarkDead flips the chain to dead. Called by the object's destroy
// path, typically registered as a destroy handler.
func (c *Chain) MarkDead() {
	atomic.StoreInt32(&c.alive, 0)
}

// Alive reports whether the object tracked by this chain is still
// alive.
func (c *Chain) Alive() bool {
	return atomic.LoadInt32(&c.alive) == 1
}
