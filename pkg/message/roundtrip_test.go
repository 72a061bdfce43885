package message

import (
	"strings"
	"testing"
)

const sampleInvite = "INVITE sip:bob@biloxi.example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.example.com;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: Bob <sip:bob@biloxi.example.com>\r\n" +
	"From: Alice <sip:alice@atlanta.example.com>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.example.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.atlanta.example.com>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"body"

func TestParsePrintRoundTrip(t *testing.T) {
	m, err := Parse([]byte(sampleInvite))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", m.Diagnostics)
	}
	if !m.IsRequest || m.StartLine.Method != MethodInvite {
		t.Fatalf("expected INVITE request, got %+v", m.StartLine)
	}
	if m.CallID() != "a84b4c76e66710@pc33.atlanta.example.com" {
		t.Fatalf("unexpected Call-ID: %q", m.CallID())
	}
	cseq := m.CSeq()
	if cseq == nil || cseq.Seq != 314159 || cseq.Method != "INVITE" {
		t.Fatalf("unexpected CSeq: %+v", cseq)
	}
	via := m.Via()
	if via == nil || via.Transport != "UDP" || via.Branch != "z9hG4bK776asdhds" {
		t.Fatalf("unexpected Via: %+v", via)
	}
	if string(m.Body) != "body" {
		t.Fatalf("unexpected body: %q", m.Body)
	}

	printed := string(m.Print())
	if !strings.HasSuffix(printed, "body") {
		t.Fatalf("printed message should end with body, got %q", printed)
	}
	reparsed, err := Parse([]byte(printed))
	if err != nil {
		t.Fatalf("re-Parse of printed message: %v", err)
	}
	if reparsed.CallID() != m.CallID() || reparsed.CSeq().Seq != m.CSeq().Seq {
		t.Fatalf("round-trip mismatch")
	}
}

func TestParseResponseStartLine(t *testing.T) {
	raw := "SIP/2.0 180 Ringing\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.example.com;branch=z9hG4bK776asdhds\r\n" +
		"To: Bob <sip:bob@biloxi.example.com>;tag=a6c85cf\r\n" +
		"From: Alice <sip:alice@atlanta.example.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.example.com\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.IsRequest || m.StartLine.StatusCode != 180 || m.StartLine.ReasonPhrase != "Ringing" {
		t.Fatalf("unexpected start line: %+v", m.StartLine)
	}
}

func TestFindMessageBoundaryWaitsForBody(t *testing.T) {
	full := []byte(sampleInvite)
	partial := full[:len(full)-2] // missing last 2 body bytes
	if _, ok, err := FindMessageBoundary(partial); err != nil || ok {
		t.Fatalf("expected incomplete message to report ok=false, got ok=%v err=%v", ok, err)
	}
	total, ok, err := FindMessageBoundary(full)
	if err != nil || !ok {
		t.Fatalf("expected complete message, got ok=%v err=%v", ok, err)
	}
	if total != len(full) {
		t.Fatalf("expected total=%d, got %d", len(full), total)
	}
}

func TestUnrecognizedHeaderBecomesGeneric(t *testing.T) {
	raw := "OPTIONS sip:bob@biloxi.example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.example.com;branch=z9hG4bK776asdhds\r\n" +
		"Max-Forwards: 70\r\n" +
		"To: <sip:bob@biloxi.example.com>\r\n" +
		"From: <sip:alice@atlanta.example.com>;tag=1\r\n" +
		"Call-ID: abc@pc33\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"X-Custom-Header: hello world\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h := m.HeaderByName("X-Custom-Header")
	if h == nil || h.Kind() != KindGeneric || h.Value() != "hello world" {
		t.Fatalf("expected generic header round-trip, got %+v", h)
	}
}
