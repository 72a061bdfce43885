package endpoint

import (
	"time"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/pkg/transaction"
	"github.com/arzzra/sipturn/pkg/transport"
)

// Config collects every tunable spec.md §6 names, plus the ambient
// fields §10.3 adds, as a plain struct with a Default constructor —
// the teacher's StackConfig (_examples/arzzra-soft_phone/pkg/dialog/stack.go) carries the
// same shape (transport settings, a timeout, a resource cap, a
// logger), generalized here across the whole engine instead of one
// dialog package.
type Config struct {
	// MaxTransactions bounds the combined client+server transaction
	// table (spec.md §6 max_tsx). 0 means unbounded.
	MaxTransactions int

	// T1/T2/T4 are the RFC 3261 §17.1.1.1 base timer values.
	T1 time.Duration
	T2 time.Duration
	T4 time.Duration

	// Td is the delayed-send ceiling setting for flushing packets
	// queued for a TCP connection still being established. Nothing in
	// the engine reads it: sends waiting on a TCP connect are bounded
	// by transport.Config.TCPInitialTimeout instead.
	Td time.Duration

	TCPKeepAliveInterval time.Duration
	TCPInitialTimeout    time.Duration

	// TurnMaxTCPConn is the pool-size setting for a TURN allocation's
	// peer-TCP data connections (RFC 6062). Nothing reads it: turn.Dial
	// always creates its pool with room for 16 connections.
	TurnMaxTCPConn int
	// TurnInitialRTO, TurnRc, TurnRm parameterize the RFC 5389 §7.2.1
	// retransmission schedule TURN sessions use.
	TurnInitialRTO time.Duration
	TurnRc         int
	TurnRm         int

	Logger           logging.Logger
	MetricsEnabled   bool
	MetricsNamespace string
}

// DefaultConfig matches spec.md §6's named defaults (max_tsx 33553,
// RFC 3261 §17.1.1.1 timers) and the RFC 5389 §7.2.1 retransmission
// defaults used elsewhere in pkg/turn.
func DefaultConfig() *Config {
	return &Config{
		MaxTransactions:      33553,
		T1:                   500 * time.Millisecond,
		T2:                   4 * time.Second,
		T4:                   5 * time.Second,
		Td:                   4 * time.Second,
		TCPKeepAliveInterval: 90 * time.Second,
		TCPInitialTimeout:    10 * time.Second,
		TurnMaxTCPConn:       4,
		TurnInitialRTO:       500 * time.Millisecond,
		TurnRc:               7,
		TurnRm:               16,
		Logger:               logging.Noop(),
		MetricsNamespace:     "sipturn",
	}
}

func (c *Config) transactionTimers() transaction.Timers {
	return transaction.Timers{T1: c.T1, T2: c.T2, T4: c.T4}
}

func (c *Config) transportConfig() *transport.Config {
	cfg := transport.DefaultConfig()
	cfg.TCPKeepAliveInterval = c.TCPKeepAliveInterval
	cfg.TCPInitialTimeout = c.TCPInitialTimeout
	cfg.Logger = c.Logger
	return cfg
}
