package message

import (
	"strconv"
	"strings"
)

// Print renders m to wire bytes: a start-line, the header sequence in
// insertion order (each on its own CRLF-terminated line, no folding),
// a blank line, and the body (spec.md §4.1's printer direction).
func (m *Message) Print() []byte {
	var b strings.Builder
	if m.IsRequest {
		b.WriteString(string(m.StartLine.Method))
		b.WriteByte(' ')
		b.WriteString(m.StartLine.RequestURI.String())
		b.WriteString(" SIP/2.0\r\n")
	} else {
		b.WriteString("SIP/2.0 ")
		b.WriteString(strconv.Itoa(m.StartLine.StatusCode))
		b.WriteByte(' ')
		b.WriteString(m.StartLine.ReasonPhrase)
		b.WriteString("\r\n")
	}
	for _, h := range m.Headers {
		b.WriteString(h.Name())
		b.WriteString(": ")
		b.WriteString(h.Value())
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	out = append(out, m.Body...)
	return out
}

// String renders the message for logging/debugging.
func (m *Message) String() string { return string(m.Print()) }
