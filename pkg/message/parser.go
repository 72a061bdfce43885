package message

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/arzzra/sipturn/pkg/status"
)

// FindMessageBoundary scans buf for a complete SIP message per
// spec.md §4.1's stream-framing rule: the header block ends at the
// first blank line, and the body length beyond it is whatever
// Content-Length declares (defaulting to 0 if absent). It reports how
// many bytes of buf the message occupies, or ok=false if buf doesn't
// yet hold a complete message (the stream-transport caller should wait
// for more bytes). This is the framing step a UDP/datagram transport
// skips entirely, since each datagram is exactly one message.
func FindMessageBoundary(buf []byte) (total int, ok bool, err error) {
	sep := bytes.Index(buf, []byte("\r\n\r\n"))
	if sep < 0 {
		return 0, false, nil
	}
	headerBlock := buf[:sep]
	contentLength := 0
	for _, line := range splitHeaderLines(string(headerBlock)) {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "l") {
			n, convErr := strconv.Atoi(strings.TrimSpace(value))
			if convErr != nil {
				return 0, false, status.Newf(status.Syntax, status.SubFraming, "message.FindMessageBoundary", "bad Content-Length")
			}
			contentLength = n
		}
	}
	total = sep + 4 + contentLength
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// Parse parses one complete message out of raw (a full UDP datagram,
// or exactly the slice FindMessageBoundary delimited for a stream
// transport).
func Parse(raw []byte) (*Message, error) {
	sep := bytes.Index(raw, []byte("\r\n\r\n"))
	if sep < 0 {
		return nil, status.Newf(status.Syntax, status.SubFraming, "message.Parse", "no CRLFCRLF header terminator")
	}
	headerBlock := string(raw[:sep])
	body := raw[sep+4:]

	lines := splitHeaderLines(headerBlock)
	if len(lines) == 0 {
		return nil, status.Newf(status.Syntax, status.SubStartLine, "message.Parse", "empty message")
	}

	m := &Message{}
	if err := parseStartLine(m, lines[0]); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			m.Diagnostics = append(m.Diagnostics, errSyntax("message: header line missing ':': %q", line))
			continue
		}
		name = strings.TrimSpace(name)
		h, err := parseHeaderValue(name, value)
		if err != nil {
			// Recoverable: record and keep parsing the rest of the
			// message (spec.md §4.1).
			m.Diagnostics = append(m.Diagnostics, err)
			continue
		}
		m.AddHeader(h)
	}

	if cl := m.ContentLength(); cl >= 0 && cl <= len(body) {
		m.Body = body[:cl]
	} else {
		m.Body = body
	}
	return m, nil
}

// splitHeaderLines splits a CRLF-delimited header block into logical
// header lines, unfolding any continuation line that starts with SP
// or HTAB back onto the previous line (RFC 3261 §7.3.1 LWS folding).
func splitHeaderLines(block string) []string {
	rawLines := strings.Split(block, "\r\n")
	var lines []string
	for _, l := range rawLines {
		if l == "" {
			continue
		}
		if (l[0] == ' ' || l[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += " " + strings.TrimSpace(l)
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func parseStartLine(m *Message, line string) error {
	if strings.HasPrefix(line, "SIP/2.0 ") {
		m.IsRequest = false
		rest := line[len("SIP/2.0 "):]
		code, reason, _ := strings.Cut(rest, " ")
		n, err := strconv.Atoi(code)
		if err != nil {
			return status.Newf(status.Syntax, status.SubStartLine, "message.Parse", "bad status code")
		}
		m.StartLine.StatusCode = n
		m.StartLine.ReasonPhrase = reason
		return nil
	}

	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 || fields[2] != "SIP/2.0" {
		return status.Newf(status.Syntax, status.SubStartLine, "message.Parse", "malformed start line")
	}
	m.IsRequest = true
	m.StartLine.Method = Method(fields[0])
	uri, err := ParseURI(fields[1])
	if err != nil {
		return err
	}
	m.StartLine.RequestURI = uri
	return nil
}
