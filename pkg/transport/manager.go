package transport

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/status"
)

// Manager registers one Transport per Type and routes outbound
// messages to whichever one the target URI/Via asks for, mirroring
// the teacher's DefaultTransportManager (pkg/sip/transport/manager.go)
// generalized from a single "network" string keyspace to the
// Type-keyed registry this package uses everywhere else.
type Manager struct {
	mu         sync.RWMutex
	transports map[Type]Transport
	onMsg      MessageHandler
}

func NewManager() *Manager {
	return &Manager{transports: make(map[Type]Transport)}
}

func (m *Manager) Register(t Transport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transports[t.Type()]; exists {
		return status.Newf(status.Resource, "", "transport.Manager.Register", string(t.Type())+" already registered")
	}
	t.OnMessage(m.dispatch)
	m.transports[t.Type()] = t
	return nil
}

func (m *Manager) Get(typ Type) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[typ]
	return t, ok
}

// PreferredTransport picks a Type for a request URI per RFC 3263's
// simplified rule the spec adopts: explicit ;transport= param wins,
// otherwise UDP for sip: and TLS for sips:.
func (m *Manager) PreferredTransport(u *message.URI) (Transport, error) {
	typ := TypeUDP
	if u.Scheme == message.SchemeSIPS {
		typ = TypeTLS
	}
	if u.TransportParam != "" {
		switch strings.ToUpper(u.TransportParam) {
		case "TCP":
			typ = TypeTCP
		case "TLS":
			typ = TypeTLS
		case "UDP":
			typ = TypeUDP
		}
	}
	t, ok := m.Get(typ)
	if !ok {
		return nil, status.Newf(status.Resource, "", "transport.Manager.PreferredTransport", string(typ)+" not registered")
	}
	return t, nil
}

// Send routes msg to addr via the transport its Request-URI (for
// requests) or topmost Via (for responses) names.
func (m *Manager) Send(msg *message.Message, addr string) error {
	var u *message.URI
	if msg.IsRequest {
		u = msg.StartLine.RequestURI
	} else if via := msg.Via(); via != nil {
		u = &message.URI{Scheme: message.SchemeSIP, TransportParam: via.Transport}
	}
	t, err := m.PreferredTransport(u)
	if err != nil {
		return err
	}
	return t.Send(msg, addr)
}

func (m *Manager) OnMessage(h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMsg = h
}

// populateReceived stamps the topmost Via's received/rport params from
// the packet's actual source address, per RFC 3261 §18.2.1 — pjproject's
// pjsip_transport_tcp.c does the same on every inbound read so the
// response route reflects NAT-translated source addresses rather than
// whatever the Via claimed.
func populateReceived(msg *message.Message, remote net.Addr) {
	if !msg.IsRequest {
		return
	}
	via := msg.Via()
	if via == nil {
		return
	}
	host, port, err := net.SplitHostPort(remote.String())
	if err != nil {
		return
	}
	if host != via.Host {
		via.Received = host
	}
	if via.HasRPort {
		if p, err := strconv.Atoi(port); err == nil {
			via.RPort = p
		}
	}
}

func (m *Manager) dispatch(msg *message.Message, remote net.Addr, t Transport) {
	populateReceived(msg, remote)
	m.mu.RLock()
	h := m.onMsg
	m.mu.RUnlock()
	if h != nil {
		h(msg, remote, t)
	}
}

// Close shuts down every registered transport.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, t := range m.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
