package transport

import (
	"crypto/tls"
	"net"
)

// NewTLSTransport returns a TCPTransport whose Listen and dial paths
// are wrapped in tls.Config, reusing every pooling/queueing/keep-alive
// behavior of TCPTransport (spec.md §4 treats TLS as "TCP plus a
// handshake", matching the teacher's tls.go wrapping its tcp.go).
func NewTLSTransport(cfg *Config, tlsCfg *tls.Config) *TCPTransport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	t := NewTCPTransport(cfg)
	t.typ = TypeTLS
	t.dial = func(network, addr string) (net.Conn, error) {
		return tls.Dial(network, addr, tlsCfg)
	}
	t.listenWrap = func(ln net.Listener) net.Listener {
		return tls.NewListener(ln, tlsCfg)
	}
	return t
}
