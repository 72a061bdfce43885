package message

import "strings"

// Method is a SIP request method token.
type Method string

const (
	MethodInvite   Method = "INVITE"
	MethodAck      Method = "ACK"
	MethodBye      Method = "BYE"
	MethodCancel   Method = "CANCEL"
	MethodRegister Method = "REGISTER"
	MethodOptions  Method = "OPTIONS"
	MethodInfo     Method = "INFO"
	MethodPrack    Method = "PRACK"
	MethodUpdate   Method = "UPDATE"
	MethodSubscribe Method = "SUBSCRIBE"
	MethodNotify   Method = "NOTIFY"
	MethodRefer    Method = "REFER"
)

// StartLine carries the request-line or status-line fields; exactly
// one side is populated, selected by Message.IsRequest.
type StartLine struct {
	// Request side.
	Method    Method
	RequestURI *URI

	// Response side.
	StatusCode int
	ReasonPhrase string
}

// Message is the C1 typed tree of spec.md §3: a request or response,
// an ordered header sequence that preserves insertion order and
// duplicate headers verbatim, and an opaque body.
type Message struct {
	IsRequest bool
	StartLine StartLine

	// Headers is kept as an ordered slice rather than the teacher's
	// map[string][]string, since spec.md §3/§4.1 require insertion
	// order and repeat-header fidelity on print.
	Headers []Header

	Body []byte

	// Diagnostics accumulates recoverable per-header parse errors
	// (spec.md §4.1: "recoverable inside one header" doesn't fail the
	// whole message).
	Diagnostics []error
}

// NewRequest builds an empty request Message for the given method and
// Request-URI.
func NewRequest(method Method, uri *URI) *Message {
	return &Message{IsRequest: true, StartLine: StartLine{Method: method, RequestURI: uri}}
}

// NewResponse builds an empty response Message.
func NewResponse(code int, reason string) *Message {
	return &Message{IsRequest: false, StartLine: StartLine{StatusCode: code, ReasonPhrase: reason}}
}

// AddHeader appends a header to the end of the ordered sequence.
func (m *Message) AddHeader(h Header) { m.Headers = append(m.Headers, h) }

// InsertHeaderFront prepends a header (used e.g. to push a new Via in
// front of the existing set).
func (m *Message) InsertHeaderFront(h Header) {
	m.Headers = append([]Header{h}, m.Headers...)
}

// Header returns the first header of the given Kind, or nil.
func (m *Message) Header(kind Kind) Header {
	for _, h := range m.Headers {
		if h.Kind() == kind {
			return h
		}
	}
	return nil
}

// HeaderAll returns every header of the given Kind, in order.
func (m *Message) HeaderAll(kind Kind) []Header {
	var out []Header
	for _, h := range m.Headers {
		if h.Kind() == kind {
			out = append(out, h)
		}
	}
	return out
}

// HeaderByName returns the first header matching name
// case-insensitively against both its canonical and short forms,
// including GenericHeader names.
func (m *Message) HeaderByName(name string) Header {
	kind := KindGeneric
	if e := lookupRegistry(name); e != nil {
		kind = e.kind
	}
	if kind != KindGeneric {
		return m.Header(kind)
	}
	for _, h := range m.Headers {
		if h.Kind() == KindGeneric && strings.EqualFold(h.Name(), name) {
			return h
		}
	}
	return nil
}

// RemoveHeader deletes every header of the given Kind.
func (m *Message) RemoveHeader(kind Kind) {
	out := m.Headers[:0]
	for _, h := range m.Headers {
		if h.Kind() != kind {
			out = append(out, h)
		}
	}
	m.Headers = out
}

// Via returns the topmost Via header, if any.
func (m *Message) Via() *ViaHeader {
	if h := m.Header(KindVia); h != nil {
		return h.(*ViaHeader)
	}
	return nil
}

// From returns the From header, if any.
func (m *Message) From() *FromToHeader {
	if h := m.Header(KindFrom); h != nil {
		return h.(*FromToHeader)
	}
	return nil
}

// To returns the To header, if any.
func (m *Message) To() *FromToHeader {
	if h := m.Header(KindTo); h != nil {
		return h.(*FromToHeader)
	}
	return nil
}

// CallID returns the Call-ID value, or "".
func (m *Message) CallID() string {
	if h := m.Header(KindCallID); h != nil {
		return h.(*CallIDHeader).Value_
	}
	return ""
}

// CSeq returns the CSeq header, if any.
func (m *Message) CSeq() *CSeqHeader {
	if h := m.Header(KindCSeq); h != nil {
		return h.(*CSeqHeader)
	}
	return nil
}

// ContentLength returns the parsed Content-Length, or -1 if absent.
func (m *Message) ContentLength() int {
	if h := m.Header(KindContentLength); h != nil {
		return h.(*IntHeader).Value
	}
	return -1
}

// Clone deep-copies the message, including every header and the body.
func (m *Message) Clone() *Message {
	c := &Message{IsRequest: m.IsRequest, StartLine: m.StartLine}
	c.StartLine.RequestURI = m.StartLine.RequestURI.Clone()
	c.Headers = make([]Header, len(m.Headers))
	for i, h := range m.Headers {
		c.Headers[i] = h.Clone()
	}
	c.Body = append([]byte(nil), m.Body...)
	return c
}
