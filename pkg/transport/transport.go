// Package transport implements the pooled transport layer (C4):
// UDP and TCP/TLS send/receive with per-(type, remote-addr) pooling,
// and queued sends while a TCP connect is in flight, following the
// shape of the teacher's
// pkg/sip/transport package generalized onto pkg/message.Message.
package transport

import (
	"net"
	"time"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/pkg/message"
)

// Type is the wire transport kind.
type Type string

const (
	TypeUDP Type = "UDP"
	TypeTCP Type = "TCP"
	TypeTLS Type = "TLS"
)

// Key identifies a pooled connection: its transport type plus the
// remote address it talks to (spec.md §4's "pooled by (type,
// remote_addr)").
type Key struct {
	Type Type
	Addr string
}

// MessageHandler is invoked for every message received on a transport.
type MessageHandler func(msg *message.Message, remote net.Addr, t Transport)

// ErrorHandler is invoked when a transport hits a non-fatal I/O error.
type ErrorHandler func(err error, t Transport)

// Transport is one listening/sending endpoint for a given Type.
type Transport interface {
	Type() Type
	Reliable() bool
	Secure() bool

	Listen(addr string) error
	Close() error

	// Send delivers msg to addr, establishing or reusing a pooled
	// connection as needed.
	Send(msg *message.Message, addr string) error

	OnMessage(h MessageHandler)
	OnError(h ErrorHandler)

	LocalAddr() net.Addr
}

// Config holds the transport-layer tunables of spec.md §6.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int

	// TCPKeepAliveInterval is the heartbeat cadence setting for pooled
	// TCP connections (spec.md §6 tcp.keep_alive_interval). TCPTransport
	// does not call EnableKeepAlive on the connections it dials or
	// accepts, so no heartbeat is sent on them.
	TCPKeepAliveInterval time.Duration
	// TCPInitialTimeout is the deadline for Send calls that wait on a
	// TCP connect another Send already has in flight (spec.md §6
	// tcp.initial_timeout). No timer closes a new connection, dialed or
	// accepted, that stays idle.
	TCPInitialTimeout time.Duration

	Logger logging.Logger
}

// DefaultConfig matches the teacher's transport defaults (buffer
// sizing, timeouts), adapted to the spec's TCP timer names.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:       2 * 1024 * 1024,
		WriteBufferSize:      2 * 1024 * 1024,
		TCPKeepAliveInterval: 90 * time.Second,
		TCPInitialTimeout:    10 * time.Second,
		Logger:               logging.Noop(),
	}
}
