package endpoint

import (
	"net"
	"testing"
	"time"

	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/transport"
)

// fakeTransport is an in-memory transport.Transport: Send just records
// what would have gone on the wire, and tests drive inbound traffic by
// calling deliver directly instead of reading from a socket.
type fakeTransport struct {
	typ      transport.Type
	reliable bool
	handler  transport.MessageHandler
	sent     []*message.Message
}

func (f *fakeTransport) Type() transport.Type { return f.typ }
func (f *fakeTransport) Reliable() bool       { return f.reliable }
func (f *fakeTransport) Secure() bool         { return false }
func (f *fakeTransport) Listen(string) error  { return nil }
func (f *fakeTransport) Close() error         { return nil }
func (f *fakeTransport) Send(msg *message.Message, addr string) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeTransport) OnMessage(h transport.MessageHandler) { f.handler = h }
func (f *fakeTransport) OnError(transport.ErrorHandler)       {}
func (f *fakeTransport) LocalAddr() net.Addr                  { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5060} }

func (f *fakeTransport) deliver(msg *message.Message, remote net.Addr) {
	f.handler(msg, remote, f)
}

func testURI(t *testing.T) *message.URI {
	t.Helper()
	u, err := message.ParseURI("sip:bob@example.com")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	return u
}

func testOptionsRequest(t *testing.T, callID string) *message.Message {
	t.Helper()
	u := testURI(t)
	req := message.NewRequest(message.MethodOptions, u)
	req.AddHeader(&message.ViaHeader{Transport: "UDP", Host: "pc.example.com", Branch: "z9hG4bK-test"})
	req.AddHeader(message.NewFrom(message.Addr{URI: u}, "tag1"))
	req.AddHeader(message.NewTo(message.Addr{URI: u}, ""))
	req.AddHeader(&message.CallIDHeader{Value_: callID})
	req.AddHeader(&message.CSeqHeader{Seq: 1, Method: string(message.MethodOptions)})
	return req
}

// TestModuleChainOrdersByPriority checks that modules fire in
// ascending priority order and that a hook returning false stops the
// chain before lower-priority modules run.
func TestModuleChainOrdersByPriority(t *testing.T) {
	chain := newModuleChain()

	var order []string
	chain.Register(&Module{
		Name:     "late",
		Priority: 20,
		OnRxRequest: func(*message.Message, net.Addr, transport.Transport) bool {
			order = append(order, "late")
			return true
		},
	})
	chain.Register(&Module{
		Name:     "early",
		Priority: 10,
		OnRxRequest: func(*message.Message, net.Addr, transport.Transport) bool {
			order = append(order, "early")
			return true
		},
	})
	chain.Register(&Module{
		Name:     "middle-stops",
		Priority: 15,
		OnRxRequest: func(*message.Message, net.Addr, transport.Transport) bool {
			order = append(order, "middle-stops")
			return false
		},
	})

	chain.dispatchRxRequest(nil, nil, nil)

	want := []string{"early", "middle-stops"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

// TestEndpointDispatchesRequestToServerTransaction exercises C3's
// receive path end to end through a fake transport: an inbound OPTIONS
// must produce exactly one new server transaction and, on retransmit,
// must not create a second one.
func TestEndpointDispatchesRequestToServerTransaction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.T1 = 20 * time.Millisecond
	e := New(cfg)
	defer e.Close()

	ft := &fakeTransport{typ: transport.TypeUDP, reliable: false}
	if err := e.RegisterTransport(ft); err != nil {
		t.Fatalf("RegisterTransport: %v", err)
	}

	req := testOptionsRequest(t, "call-1@pc")
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5060}

	ft.deliver(req, remote)
	if _, ok := e.TransactionManager().LookupServer(req); !ok {
		t.Fatalf("expected a server transaction to exist after the first OPTIONS")
	}

	// Retransmitting the same request must not create a second
	// transaction (RFC 3261 §17.2.3's duplicate-request absorption).
	before := len(ft.sent)
	ft.deliver(req, remote)
	if len(ft.sent) != before {
		t.Fatalf("expected the retransmit to be absorbed by the existing transaction, got %d new sends", len(ft.sent)-before)
	}
}

// TestEndpointRejectsOverTableLimit checks max_tsx enforcement end to
// end: once MaxTransactions requests have been accepted, the next
// distinct request must be dropped rather than spawn a transaction.
func TestEndpointRejectsOverTableLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTransactions = 1
	e := New(cfg)
	defer e.Close()

	ft := &fakeTransport{typ: transport.TypeUDP, reliable: false}
	if err := e.RegisterTransport(ft); err != nil {
		t.Fatalf("RegisterTransport: %v", err)
	}

	first := testOptionsRequest(t, "call-1@pc")
	ft.deliver(first, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5060})
	if _, ok := e.TransactionManager().LookupServer(first); !ok {
		t.Fatalf("expected the first request to open a transaction")
	}

	second := testOptionsRequest(t, "call-2@pc")
	second.Via().Branch = "z9hG4bK-test-2"
	ft.deliver(second, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5060})
	if _, ok := e.TransactionManager().LookupServer(second); ok {
		t.Fatalf("expected the second request to be dropped once max_tsx is reached")
	}
}
