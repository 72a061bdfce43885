package message

import "testing"

func TestParseURIBasic(t *testing.T) {
	u, err := ParseURI("sip:alice@atlanta.example.com:5070;transport=tcp")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if u.Scheme != SchemeSIP || u.User != "alice" || u.Host != "atlanta.example.com" || u.Port != 5070 {
		t.Fatalf("unexpected URI fields: %+v", u)
	}
	if u.TransportParam != "tcp" {
		t.Fatalf("expected transport=tcp, got %q", u.TransportParam)
	}
	if got := u.String(); got != "sip:alice@atlanta.example.com:5070;transport=tcp" {
		t.Fatalf("round-trip mismatch: %q", got)
	}
}

func TestParseURIUnrecognizedParamPreserved(t *testing.T) {
	u, err := ParseURI("sip:bob@example.com;foo=bar;lr")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if !u.LRParam {
		t.Fatalf("expected lr param set")
	}
	if u.OtherParams != ";foo=bar" {
		t.Fatalf("expected opaque tail to preserve foo=bar, got %q", u.OtherParams)
	}
}

func TestParseAddrNameAddr(t *testing.T) {
	a, err := ParseAddr(`"Alice Example" <sip:alice@atlanta.example.com>;early-only`)
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if a.DisplayName != "Alice Example" || !a.Quoted {
		t.Fatalf("unexpected addr fields: %+v", a)
	}
	if a.URI.User != "alice" {
		t.Fatalf("expected user alice, got %q", a.URI.User)
	}
}

func TestParseAddrBareURI(t *testing.T) {
	a, err := ParseAddr("sip:bob@biloxi.example.com")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if a.Quoted || a.DisplayName != "" {
		t.Fatalf("bare URI should not be bracketed: %+v", a)
	}
	if got := a.String(); got != "sip:bob@biloxi.example.com" {
		t.Fatalf("round-trip mismatch: %q", got)
	}
}
