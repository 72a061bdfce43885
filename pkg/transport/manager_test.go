package transport

import "testing"

func TestManagerRegisterDuplicateRejected(t *testing.T) {
	m := NewManager()
	u1 := NewUDPTransport(nil)
	if err := u1.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer u1.Close()
	if err := m.Register(u1); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	u2 := NewUDPTransport(nil)
	if err := u2.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer u2.Close()
	if err := m.Register(u2); err == nil {
		t.Fatal("expected duplicate UDP registration to be rejected")
	}
}

func TestPreferredTransportByScheme(t *testing.T) {
	m := NewManager()
	udp := NewUDPTransport(nil)
	if err := udp.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer udp.Close()
	if err := m.Register(udp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	u := mustParseURI(t, "sip:bob@example.com")
	got, err := m.PreferredTransport(u)
	if err != nil {
		t.Fatalf("PreferredTransport: %v", err)
	}
	if got.Type() != TypeUDP {
		t.Fatalf("expected UDP, got %s", got.Type())
	}
}
