package transport

import (
	"net"
	"testing"
	"time"

	"github.com/arzzra/sipturn/pkg/message"
)

func TestUDPTransportRoundTrip(t *testing.T) {
	server := NewUDPTransport(nil)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("server Listen: %v", err)
	}
	defer server.Close()

	client := NewUDPTransport(nil)
	if err := client.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("client Listen: %v", err)
	}
	defer client.Close()

	var received *message.Message
	done := make(chan struct{})
	server.OnMessage(func(msg *message.Message, remote net.Addr, tr Transport) {
		received = msg
		close(done)
	})

	req := message.NewRequest(message.MethodOptions, mustParseURI(t, "sip:test@127.0.0.1"))
	req.AddHeader(&message.CallIDHeader{Value_: "abc@client"})
	req.AddHeader(&message.CSeqHeader{Seq: 1, Method: "OPTIONS"})

	if err := client.Send(req, server.LocalAddr().String()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	if received == nil || !received.IsRequest || received.StartLine.Method != message.MethodOptions {
		t.Fatalf("unexpected received message: %+v", received)
	}
	if received.CallID() != "abc@client" {
		t.Fatalf("unexpected Call-ID: %q", received.CallID())
	}
}

func mustParseURI(t *testing.T, s string) *message.URI {
	t.Helper()
	u, err := message.ParseURI(s)
	if err != nil {
		t.Fatalf("ParseURI(%q): %v", s, err)
	}
	return u
}
