// Package message implements the SIP message model (C1) and its wire
// parser/printer (C2): a typed tree for requests and responses, an
// intrusive-ordered header sequence, and the header-name registry
// that dispatches wire bytes to per-header parsers.
//
// The type shapes follow the teacher's pkg/sip/core/types package
// (Header/Address/URI interfaces with a concrete default
// implementation, ParseXxx free functions), generalized where the
// specification requires something the teacher's map-based header
// storage couldn't give us: an insertion-ordered, possibly-repeating
// header sequence (spec.md §3, §4.1) instead of a map[string][]string.
package message

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the URI scheme tag of the {sip, sips, tel} variant.
type Scheme string

const (
	SchemeSIP  Scheme = "sip"
	SchemeSIPS Scheme = "sips"
	SchemeTel  Scheme = "tel"
)

// recognizedURIParams are the six parameters spec.md §3 calls out as
// "recognized" on a sip/sips URI; everything else lands in OtherParams
// as an opaque tail so it round-trips byte-for-byte.
var recognizedURIParams = map[string]bool{
	"user": true, "method": true, "transport": true, "ttl": true, "maddr": true, "lr": true,
}

// URI is the tagged {sip, sips, tel} variant of spec.md §3. A
// name-addr wrapping is modeled separately by Addr, since it's a
// property of the header context (From/To/Contact/Route), not of the
// URI itself.
type URI struct {
	Scheme   Scheme
	User     string
	Password string
	Host     string
	Port     int // 0 means "default for scheme"

	// Recognized parameters.
	UserParam      string
	MethodParam    string
	TransportParam string
	TTLParam       int
	HasTTLParam    bool
	MAddrParam     string
	LRParam        bool

	// OtherParams is the opaque concatenated tail of unrecognized
	// ";name=value" pairs, preserved verbatim for round-trip.
	OtherParams string
	// HeaderParams is the opaque tail after '?', e.g. "?subject=foo".
	HeaderParams string

	// TelNumber holds the subscriber number for a tel: URI; all other
	// fields are unused in that case.
	TelNumber string
}

// DefaultPort returns the scheme's default port (5060 for sip, 5061
// for sips), or 0 for tel.
func (u *URI) DefaultPort() int {
	switch u.Scheme {
	case SchemeSIPS:
		return 5061
	case SchemeSIP:
		return 5060
	default:
		return 0
	}
}

// EffectivePort returns u.Port if set, otherwise DefaultPort().
func (u *URI) EffectivePort() int {
	if u.Port != 0 {
		return u.Port
	}
	return u.DefaultPort()
}

// Clone deep-copies a URI.
func (u *URI) Clone() *URI {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ParseURI parses a sip:, sips:, or tel: URI per spec.md §4.1's
// grammar (tokens, parameter charset, opaque unrecognized-param tail).
func ParseURI(s string) (*URI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("message: empty URI")
	}
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return nil, fmt.Errorf("message: URI missing scheme: %q", s)
	}
	scheme := Scheme(strings.ToLower(s[:colon]))
	rest := s[colon+1:]
	u := &URI{Scheme: scheme}

	switch scheme {
	case SchemeSIP, SchemeSIPS:
		if err := parseSIPURIRest(u, rest); err != nil {
			return nil, err
		}
	case SchemeTel:
		u.TelNumber = rest
	default:
		return nil, fmt.Errorf("message: unsupported URI scheme %q", scheme)
	}
	return u, nil
}

func parseSIPURIRest(u *URI, rest string) error {
	// Split off header-params tail at the first unescaped '?'.
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		u.HeaderParams = rest[q:]
		rest = rest[:q]
	}

	// Split off the parameter tail at the first ';' (params apply to
	// the whole URI, after host[:port]).
	var paramsPart string
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		paramsPart = rest[semi+1:]
		rest = rest[:semi]
	}

	// userinfo@hostport
	hostport := rest
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		userinfo := rest[:at]
		hostport = rest[at+1:]
		if colon := strings.IndexByte(userinfo, ':'); colon >= 0 {
			u.User = mustUnescape(userinfo[:colon])
			u.Password = mustUnescape(userinfo[colon+1:])
		} else {
			u.User = mustUnescape(userinfo)
		}
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return err
	}
	u.Host = host
	u.Port = port

	if paramsPart != "" {
		parseURIParams(u, paramsPart)
	}
	return nil
}

// splitHostPort splits "host", "host:port", or "[v6]:port". IPv6
// literal bracket handling is intentionally minimal — spec.md §4.1
// notes full IPv6-literal handling is the caller's concern.
func splitHostPort(hp string) (string, int, error) {
	if strings.HasPrefix(hp, "[") {
		end := strings.IndexByte(hp, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("message: unterminated IPv6 literal in %q", hp)
		}
		host := hp[:end+1]
		remainder := hp[end+1:]
		if strings.HasPrefix(remainder, ":") {
			p, err := strconv.Atoi(remainder[1:])
			if err != nil {
				return "", 0, fmt.Errorf("message: bad port in %q: %w", hp, err)
			}
			return host, p, nil
		}
		return host, 0, nil
	}
	if colon := strings.LastIndexByte(hp, ':'); colon >= 0 {
		p, err := strconv.Atoi(hp[colon+1:])
		if err != nil {
			return "", 0, fmt.Errorf("message: bad port in %q: %w", hp, err)
		}
		return hp[:colon], p, nil
	}
	return hp, 0, nil
}

func parseURIParams(u *URI, params string) {
	var other []string
	for _, seg := range strings.Split(params, ";") {
		if seg == "" {
			continue
		}
		name, value, _ := strings.Cut(seg, "=")
		lname := strings.ToLower(name)
		if !recognizedURIParams[lname] {
			other = append(other, seg)
			continue
		}
		switch lname {
		case "user":
			u.UserParam = value
		case "method":
			u.MethodParam = value
		case "transport":
			u.TransportParam = value
		case "maddr":
			u.MAddrParam = value
		case "lr":
			u.LRParam = true
		case "ttl":
			if n, err := strconv.Atoi(value); err == nil {
				u.TTLParam = n
				u.HasTTLParam = true
			} else {
				other = append(other, seg)
			}
		}
	}
	if len(other) > 0 {
		u.OtherParams = ";" + strings.Join(other, ";")
	}
}

func mustUnescape(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return s
}

// String renders the URI back to wire form.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(string(u.Scheme))
	b.WriteByte(':')
	if u.Scheme == SchemeTel {
		b.WriteString(u.TelNumber)
		return b.String()
	}
	if u.User != "" {
		b.WriteString(u.User)
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(u.Password)
		}
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	if u.UserParam != "" {
		b.WriteString(";user=")
		b.WriteString(u.UserParam)
	}
	if u.MethodParam != "" {
		b.WriteString(";method=")
		b.WriteString(u.MethodParam)
	}
	if u.TransportParam != "" {
		b.WriteString(";transport=")
		b.WriteString(u.TransportParam)
	}
	if u.HasTTLParam {
		b.WriteString(";ttl=")
		b.WriteString(strconv.Itoa(u.TTLParam))
	}
	if u.MAddrParam != "" {
		b.WriteString(";maddr=")
		b.WriteString(u.MAddrParam)
	}
	if u.LRParam {
		b.WriteString(";lr")
	}
	b.WriteString(u.OtherParams)
	b.WriteString(u.HeaderParams)
	return b.String()
}
