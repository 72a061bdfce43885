package dialog

import (
	"testing"

	"github.com/arzzra/sipturn/pkg/message"
)

func mustURI(t *testing.T, raw string) *message.URI {
	t.Helper()
	u, err := message.ParseURI(raw)
	if err != nil {
		t.Fatalf("ParseURI(%q): %v", raw, err)
	}
	return u
}

func newInvite(t *testing.T) *message.Message {
	t.Helper()
	req := message.NewRequest(message.MethodInvite, mustURI(t, "sip:bob@biloxi.example.com"))
	req.AddHeader(message.NewFrom(message.Addr{URI: mustURI(t, "sip:alice@atlanta.example.com")}, "alicetag"))
	req.AddHeader(message.NewTo(message.Addr{URI: mustURI(t, "sip:bob@biloxi.example.com")}, ""))
	req.AddHeader(&message.CallIDHeader{Value_: "call-abc@atlanta"})
	req.AddHeader(&message.CSeqHeader{Seq: 1, Method: string(message.MethodInvite)})
	req.AddHeader(&message.ViaHeader{Transport: "UDP", Host: "atlanta.example.com", Branch: "z9hG4bK-1"})
	return req
}

// newOKWithRecordRoute builds the 2xx as it would appear on the wire:
// Record-Route headers in the order the proxies added them (closest
// proxy to the callee last), which the dialog layer must reverse when
// it becomes the outgoing route set.
func newOKWithRecordRoute(t *testing.T, invite *message.Message) *message.Message {
	t.Helper()
	resp := message.NewResponse(200, "OK")
	if from := invite.From(); from != nil {
		resp.AddHeader(from.Clone())
	}
	resp.AddHeader(message.NewTo(message.Addr{URI: mustURI(t, "sip:bob@biloxi.example.com")}, "bobtag"))
	resp.AddHeader(&message.CallIDHeader{Value_: invite.CallID()})
	if cseq := invite.CSeq(); cseq != nil {
		resp.AddHeader(cseq.Clone())
	}
	resp.AddHeader(message.NewRecordRoute(message.Addr{URI: mustURI(t, "sip:proxy1.example.com;lr")}))
	resp.AddHeader(message.NewRecordRoute(message.Addr{URI: mustURI(t, "sip:proxy2.example.com;lr")}))
	resp.AddHeader(&message.ContactHeader{Addr: message.Addr{URI: mustURI(t, "sip:bob@192.0.2.4")}})
	return resp
}

func TestEstablishRouteSetReversesRecordRoute(t *testing.T) {
	invite := newInvite(t)
	d := NewUACDialog(invite, nil)
	resp := newOKWithRecordRoute(t, invite)

	d.EstablishRouteSet(resp)

	if len(d.RouteSet) != 2 {
		t.Fatalf("expected 2 route entries, got %d", len(d.RouteSet))
	}
	first := d.RouteSet[0].(*message.RouteHeader)
	second := d.RouteSet[1].(*message.RouteHeader)
	if first.Addr.URI.Host != "proxy2.example.com" {
		t.Errorf("expected proxy2 first after reversal, got %s", first.Addr.URI.Host)
	}
	if second.Addr.URI.Host != "proxy1.example.com" {
		t.Errorf("expected proxy1 second after reversal, got %s", second.Addr.URI.Host)
	}
	if d.RemoteTag != "bobtag" {
		t.Errorf("expected RemoteTag bobtag, got %q", d.RemoteTag)
	}
}

func TestBuildACKCarriesRouteSetAndToTag(t *testing.T) {
	invite := newInvite(t)
	d := NewUACDialog(invite, nil)
	resp := newOKWithRecordRoute(t, invite)
	d.EstablishRouteSet(resp)

	ack := d.BuildACK(invite, resp)

	if ack.StartLine.Method != message.MethodAck {
		t.Fatalf("expected ACK method, got %s", ack.StartLine.Method)
	}
	if to := ack.To(); to == nil || to.Tag != "bobtag" {
		t.Fatalf("expected ACK To tag bobtag, got %+v", to)
	}
	if cseq := ack.CSeq(); cseq == nil || cseq.Seq != 1 || cseq.Method != string(message.MethodAck) {
		t.Fatalf("expected CSeq 1 ACK, got %+v", cseq)
	}
	routes := ack.HeaderAll(message.KindRoute)
	if len(routes) != 2 {
		t.Fatalf("expected 2 Route headers on ACK, got %d", len(routes))
	}
}

func TestReinviteGlareDetection(t *testing.T) {
	invite := newInvite(t)
	d := NewUACDialog(invite, nil)

	d.BeginReinvite(true)
	if !d.CheckReinviteGlare(false) {
		t.Fatal("expected incoming re-INVITE to detect glare against in-flight outgoing one")
	}
	if d.CheckReinviteGlare(true) {
		t.Fatal("expected no glare for a second outgoing re-INVITE check (only the peer direction is tracked)")
	}

	d.EndReinvite(true)
	if d.CheckReinviteGlare(false) {
		t.Fatal("expected glare to clear once the outgoing re-INVITE completes")
	}
}

func TestBuildGlareResponseCopiesDialogHeaders(t *testing.T) {
	invite := newInvite(t)
	resp := BuildGlareResponse(invite)

	if resp.StartLine.StatusCode != 491 {
		t.Fatalf("expected 491, got %d", resp.StartLine.StatusCode)
	}
	if resp.CallID() != invite.CallID() {
		t.Fatalf("expected Call-ID to be copied, got %q", resp.CallID())
	}
	if h := resp.Header(message.KindRetryAfter); h == nil {
		t.Fatal("expected a Retry-After header on the 491")
	}
}
