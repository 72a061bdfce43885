package message

import (
	"fmt"
	"strconv"
	"strings"
)

// FromToHeader models both From and To (spec.md §3: "name-addr + tag
// + other-params"); which one it is is carried by the Kind field so a
// single type serves both, matching how similar the two headers are
// on the wire.
type FromToHeader struct {
	kind       Kind // KindFrom or KindTo
	Addr       Addr
	Tag        string
	OtherParams []Param
}

func NewFrom(addr Addr, tag string) *FromToHeader { return &FromToHeader{kind: KindFrom, Addr: addr, Tag: tag} }
func NewTo(addr Addr, tag string) *FromToHeader   { return &FromToHeader{kind: KindTo, Addr: addr, Tag: tag} }

func (h *FromToHeader) Kind() Kind { return h.kind }
func (h *FromToHeader) Name() string {
	if h.kind == KindFrom {
		return "From"
	}
	return "To"
}
func (h *FromToHeader) ShortName() string {
	if h.kind == KindFrom {
		return "f"
	}
	return "t"
}
func (h *FromToHeader) Value() string {
	var b strings.Builder
	b.WriteString(h.Addr.String())
	if h.Tag != "" {
		b.WriteString(";tag=")
		b.WriteString(h.Tag)
	}
	b.WriteString(paramsString(h.OtherParams))
	return b.String()
}
func (h *FromToHeader) Clone() Header {
	c := &FromToHeader{kind: h.kind, Addr: h.Addr.Clone(), Tag: h.Tag}
	c.OtherParams = append([]Param(nil), h.OtherParams...)
	return c
}

func parseFromTo(kind Kind, value string) (Header, error) {
	parts := splitParams(value)
	addr, err := ParseAddr(parts[0])
	if err != nil {
		return nil, err
	}
	h := &FromToHeader{kind: kind, Addr: addr}
	for _, raw := range parts[1:] {
		p := parseParam(raw)
		if strings.EqualFold(p.Name, "tag") {
			h.Tag = p.Value
		} else {
			h.OtherParams = append(h.OtherParams, p)
		}
	}
	return h, nil
}

// ContactHeader models spec.md §3's Contact: "star or name-addr +
// q-value in millipoints + expires + other-params".
type ContactHeader struct {
	Star        bool
	Addr        Addr
	HasQ        bool
	Q1000       int // q-value * 1000, per spec.md §4.1's millipoint storage
	HasExpires  bool
	Expires     int
	OtherParams []Param
}

func (h *ContactHeader) Kind() Kind        { return KindContact }
func (h *ContactHeader) Name() string      { return "Contact" }
func (h *ContactHeader) ShortName() string { return "m" }
func (h *ContactHeader) Value() string {
	if h.Star {
		return "*"
	}
	var b strings.Builder
	b.WriteString(h.Addr.String())
	if h.HasQ {
		b.WriteString(";q=")
		b.WriteString(formatQ(h.Q1000))
	}
	if h.HasExpires {
		b.WriteString(";expires=")
		b.WriteString(strconv.Itoa(h.Expires))
	}
	b.WriteString(paramsString(h.OtherParams))
	return b.String()
}
func (h *ContactHeader) Clone() Header {
	c := *h
	c.Addr = h.Addr.Clone()
	c.OtherParams = append([]Param(nil), h.OtherParams...)
	return &c
}

// formatQ renders a millipoint q-value with three decimals, trimming
// trailing zeros only down to a whole integer (spec.md §4.1's
// tie-break; see DESIGN.md for the q=1 vs q=1.000 open question).
func formatQ(q1000 int) string {
	s := fmt.Sprintf("%d.%03d", q1000/1000, q1000%1000)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

func parseContact(value string) (Header, error) {
	value = strings.TrimSpace(value)
	if value == "*" {
		return &ContactHeader{Star: true}, nil
	}
	parts := splitParams(value)
	addr, err := ParseAddr(parts[0])
	if err != nil {
		return nil, err
	}
	h := &ContactHeader{Addr: addr}
	for _, raw := range parts[1:] {
		p := parseParam(raw)
		switch strings.ToLower(p.Name) {
		case "q":
			q, err := parseQValue(p.Value)
			if err != nil {
				return nil, err
			}
			h.HasQ = true
			h.Q1000 = q
		case "expires":
			n, err := strconv.Atoi(p.Value)
			if err != nil {
				return nil, errSyntax("message: bad Contact expires %q", p.Value)
			}
			h.HasExpires = true
			h.Expires = n
		default:
			h.OtherParams = append(h.OtherParams, p)
		}
	}
	return h, nil
}

func parseQValue(s string) (int, error) {
	whole, frac, ok := strings.Cut(s, ".")
	w, err := strconv.Atoi(whole)
	if err != nil {
		return 0, errSyntax("message: bad q-value %q", s)
	}
	if !ok {
		return w * 1000, nil
	}
	for len(frac) < 3 {
		frac += "0"
	}
	frac = frac[:3]
	f, err := strconv.Atoi(frac)
	if err != nil {
		return 0, errSyntax("message: bad q-value %q", s)
	}
	return w*1000 + f, nil
}

// CallIDHeader models spec.md §3's Call-ID (a bare opaque token).
type CallIDHeader struct{ Value_ string }

func (h *CallIDHeader) Kind() Kind        { return KindCallID }
func (h *CallIDHeader) Name() string      { return "Call-ID" }
func (h *CallIDHeader) ShortName() string { return "i" }
func (h *CallIDHeader) Value() string     { return h.Value_ }
func (h *CallIDHeader) Clone() Header     { c := *h; return &c }

// CSeqHeader models spec.md §3's CSeq (number + method).
type CSeqHeader struct {
	Seq    uint32
	Method string
}

func (h *CSeqHeader) Kind() Kind        { return KindCSeq }
func (h *CSeqHeader) Name() string      { return "CSeq" }
func (h *CSeqHeader) ShortName() string { return "CSeq" }
func (h *CSeqHeader) Value() string     { return fmt.Sprintf("%d %s", h.Seq, h.Method) }
func (h *CSeqHeader) Clone() Header     { c := *h; return &c }

func parseCSeq(value string) (Header, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return nil, errSyntax("message: malformed CSeq %q", value)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, errSyntax("message: bad CSeq number %q", fields[0])
	}
	return &CSeqHeader{Seq: uint32(n), Method: fields[1]}, nil
}

// ViaHeader models spec.md §3's Via: transport, sent-by host+port,
// and the branch/ttl/maddr/received/rport parameters.
type ViaHeader struct {
	Transport string // e.g. "UDP", "TCP", "TLS"
	Host      string
	Port      int
	Branch    string
	HasTTL    bool
	TTL       int
	MAddr     string
	Received  string
	HasRPort  bool
	RPort     int // 0 with HasRPort true means "rport requested, no value yet"
	OtherParams []Param
}

func (h *ViaHeader) Kind() Kind        { return KindVia }
func (h *ViaHeader) Name() string      { return "Via" }
func (h *ViaHeader) ShortName() string { return "v" }
func (h *ViaHeader) Value() string {
	var b strings.Builder
	b.WriteString("SIP/2.0/")
	b.WriteString(h.Transport)
	b.WriteByte(' ')
	b.WriteString(h.Host)
	if h.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(h.Port))
	}
	if h.Branch != "" {
		b.WriteString(";branch=")
		b.WriteString(h.Branch)
	}
	if h.Received != "" {
		b.WriteString(";received=")
		b.WriteString(h.Received)
	}
	if h.HasRPort {
		b.WriteString(";rport")
		if h.RPort != 0 {
			b.WriteByte('=')
			b.WriteString(strconv.Itoa(h.RPort))
		}
	}
	if h.HasTTL {
		b.WriteString(";ttl=")
		b.WriteString(strconv.Itoa(h.TTL))
	}
	if h.MAddr != "" {
		b.WriteString(";maddr=")
		b.WriteString(h.MAddr)
	}
	b.WriteString(paramsString(h.OtherParams))
	return b.String()
}
func (h *ViaHeader) Clone() Header {
	c := *h
	c.OtherParams = append([]Param(nil), h.OtherParams...)
	return &c
}

func parseVia(value string) (Header, error) {
	value = strings.TrimSpace(value)
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return nil, errSyntax("message: malformed Via %q", value)
	}
	proto := strings.TrimPrefix(strings.ToUpper(fields[0]), "SIP/2.0/")
	h := &ViaHeader{Transport: proto}

	segs := splitParams(fields[1])
	host, port, err := splitHostPort(strings.TrimSpace(segs[0]))
	if err != nil {
		return nil, err
	}
	h.Host, h.Port = host, port

	for _, raw := range segs[1:] {
		p := parseParam(raw)
		switch strings.ToLower(p.Name) {
		case "branch":
			h.Branch = p.Value
		case "received":
			h.Received = p.Value
		case "rport":
			h.HasRPort = true
			if p.HasValue && p.Value != "" {
				n, err := strconv.Atoi(p.Value)
				if err == nil {
					h.RPort = n
				}
			}
		case "ttl":
			n, err := strconv.Atoi(p.Value)
			if err == nil {
				h.TTL, h.HasTTL = n, true
			}
		case "maddr":
			h.MAddr = p.Value
		default:
			h.OtherParams = append(h.OtherParams, p)
		}
	}
	return h, nil
}

// RouteHeader models both Route and Record-Route: a name-addr plus
// opaque params, carried in the order they appear.
type RouteHeader struct {
	kind   Kind // KindRoute or KindRecordRoute
	Addr   Addr
	Params []Param
}

func NewRoute(addr Addr) *RouteHeader       { return &RouteHeader{kind: KindRoute, Addr: addr} }
func NewRecordRoute(addr Addr) *RouteHeader { return &RouteHeader{kind: KindRecordRoute, Addr: addr} }

func (h *RouteHeader) Kind() Kind { return h.kind }
func (h *RouteHeader) Name() string {
	if h.kind == KindRoute {
		return "Route"
	}
	return "Record-Route"
}
func (h *RouteHeader) ShortName() string { return h.Name() }
func (h *RouteHeader) Value() string     { return h.Addr.String() + paramsString(h.Params) }
func (h *RouteHeader) Clone() Header {
	c := &RouteHeader{kind: h.kind, Addr: h.Addr.Clone()}
	c.Params = append([]Param(nil), h.Params...)
	return c
}

func parseRoute(kind Kind, value string) (Header, error) {
	parts := splitParams(value)
	addr, err := ParseAddr(parts[0])
	if err != nil {
		return nil, err
	}
	h := &RouteHeader{kind: kind, Addr: addr}
	for _, raw := range parts[1:] {
		h.Params = append(h.Params, parseParam(raw))
	}
	return h, nil
}

// IntHeader models the bare-integer headers: Max-Forwards,
// Content-Length, Expires, Min-Expires, Retry-After.
type IntHeader struct {
	kind  Kind
	Value int
}

func NewMaxForwards(n int) *IntHeader { return &IntHeader{kind: KindMaxForwards, Value: n} }
func NewExpires(n int) *IntHeader     { return &IntHeader{kind: KindExpires, Value: n} }
func NewMinExpires(n int) *IntHeader  { return &IntHeader{kind: KindMinExpires, Value: n} }
func NewRetryAfter(n int) *IntHeader  { return &IntHeader{kind: KindRetryAfter, Value: n} }

func (h *IntHeader) Kind() Kind { return h.kind }
func (h *IntHeader) Name() string {
	switch h.kind {
	case KindMaxForwards:
		return "Max-Forwards"
	case KindContentLength:
		return "Content-Length"
	case KindExpires:
		return "Expires"
	case KindMinExpires:
		return "Min-Expires"
	case KindRetryAfter:
		return "Retry-After"
	default:
		return "X-Int"
	}
}
func (h *IntHeader) ShortName() string {
	switch h.kind {
	case KindContentLength:
		return "l"
	default:
		return h.Name()
	}
}
func (h *IntHeader) Value() string { return strconv.Itoa(h.Value) }
func (h *IntHeader) Clone() Header { c := *h; return &c }

func parseIntHeader(kind Kind, value string) (Header, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, errSyntax("message: bad integer header value %q", value)
	}
	return &IntHeader{kind: kind, Value: n}, nil
}

// ContentTypeHeader models spec.md §3's body content-type: "type/
// subtype plus parameters".
type ContentTypeHeader struct {
	Type    string
	Subtype string
	Params  []Param
}

func (h *ContentTypeHeader) Kind() Kind        { return KindContentType }
func (h *ContentTypeHeader) Name() string      { return "Content-Type" }
func (h *ContentTypeHeader) ShortName() string { return "c" }
func (h *ContentTypeHeader) Value() string {
	return h.Type + "/" + h.Subtype + paramsString(h.Params)
}
func (h *ContentTypeHeader) Clone() Header {
	c := *h
	c.Params = append([]Param(nil), h.Params...)
	return &c
}
func (h *ContentTypeHeader) String() string { return h.Value() }

func parseContentType(value string) (Header, error) {
	parts := splitParams(value)
	typ, sub, ok := strings.Cut(parts[0], "/")
	if !ok {
		return nil, errSyntax("message: malformed Content-Type %q", value)
	}
	h := &ContentTypeHeader{Type: strings.TrimSpace(typ), Subtype: strings.TrimSpace(sub)}
	for _, raw := range parts[1:] {
		h.Params = append(h.Params, parseParam(raw))
	}
	return h, nil
}

// TokenListHeader models the array-of-tokens headers: Require,
// Supported, Unsupported, Allow, Accept.
type TokenListHeader struct {
	kind   Kind
	Tokens []string
}

func (h *TokenListHeader) Kind() Kind { return h.kind }
func (h *TokenListHeader) Name() string {
	switch h.kind {
	case KindRequire:
		return "Require"
	case KindSupported:
		return "Supported"
	case KindUnsupported:
		return "Unsupported"
	case KindAllow:
		return "Allow"
	case KindAccept:
		return "Accept"
	default:
		return "X-TokenList"
	}
}
func (h *TokenListHeader) ShortName() string {
	if h.kind == KindSupported {
		return "k"
	}
	return h.Name()
}
func (h *TokenListHeader) Value() string { return strings.Join(h.Tokens, ", ") }
func (h *TokenListHeader) Clone() Header {
	c := &TokenListHeader{kind: h.kind}
	c.Tokens = append([]string(nil), h.Tokens...)
	return c
}

func parseTokenList(kind Kind, value string) (Header, error) {
	var tokens []string
	for _, t := range strings.Split(value, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return &TokenListHeader{kind: kind, Tokens: tokens}, nil
}

// splitParams splits a header value into its base part and a list of
// raw ";param" segments, honoring double-quoted strings so a ';'
// inside a quoted value doesn't split.
func splitParams(value string) []string {
	var parts []string
	start := 0
	inQuotes := false
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '"':
			inQuotes = !inQuotes
		case '\\':
			if inQuotes {
				i++
			}
		case ';':
			if !inQuotes {
				parts = append(parts, strings.TrimSpace(value[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(value[start:]))
	return parts
}

// parseParam parses one raw "name" or "name=value" segment, unquoting
// a quoted-string value per spec.md §4.1 (`\` is the one-character
// escape).
func parseParam(raw string) Param {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok {
		return Param{Name: name}
	}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") && len(value) >= 2 {
		value = unescapeQuoted(value[1 : len(value)-1])
	}
	return Param{Name: name, Value: value, HasValue: true}
}
