package message

import "strings"

// registryEntry binds a canonical header name to its Kind and parser,
// and lists the compact short-form aliases RFC 3261 §7.3.3 defines.
type registryEntry struct {
	kind       Kind
	canonical  string
	shortForms []string
	parse      func(raw string) (Header, error)
}

// registry is keyed by lower-cased name (both canonical and short
// forms resolve here), matching the teacher's case-insensitive header
// lookup in pkg/sip/core/parser.
var registry = map[string]*registryEntry{}

func register(e *registryEntry) {
	registry[strings.ToLower(e.canonical)] = e
	for _, s := range e.shortForms {
		registry[strings.ToLower(s)] = e
	}
}

func init() {
	register(&registryEntry{kind: KindFrom, canonical: "From", shortForms: []string{"f"},
		parse: func(raw string) (Header, error) { return parseFromTo(KindFrom, raw) }})
	register(&registryEntry{kind: KindTo, canonical: "To", shortForms: []string{"t"},
		parse: func(raw string) (Header, error) { return parseFromTo(KindTo, raw) }})
	register(&registryEntry{kind: KindContact, canonical: "Contact", shortForms: []string{"m"},
		parse: parseContact})
	register(&registryEntry{kind: KindCallID, canonical: "Call-ID", shortForms: []string{"i"},
		parse: func(raw string) (Header, error) { return &CallIDHeader{Value_: strings.TrimSpace(raw)}, nil }})
	register(&registryEntry{kind: KindCSeq, canonical: "CSeq",
		parse: parseCSeq})
	register(&registryEntry{kind: KindVia, canonical: "Via", shortForms: []string{"v"},
		parse: parseVia})
	register(&registryEntry{kind: KindRoute, canonical: "Route",
		parse: func(raw string) (Header, error) { return parseRoute(KindRoute, raw) }})
	register(&registryEntry{kind: KindRecordRoute, canonical: "Record-Route",
		parse: func(raw string) (Header, error) { return parseRoute(KindRecordRoute, raw) }})
	register(&registryEntry{kind: KindMaxForwards, canonical: "Max-Forwards",
		parse: func(raw string) (Header, error) { return parseIntHeader(KindMaxForwards, raw) }})
	register(&registryEntry{kind: KindContentLength, canonical: "Content-Length", shortForms: []string{"l"},
		parse: func(raw string) (Header, error) { return parseIntHeader(KindContentLength, raw) }})
	register(&registryEntry{kind: KindContentType, canonical: "Content-Type", shortForms: []string{"c"},
		parse: parseContentType})
	register(&registryEntry{kind: KindExpires, canonical: "Expires",
		parse: func(raw string) (Header, error) { return parseIntHeader(KindExpires, raw) }})
	register(&registryEntry{kind: KindMinExpires, canonical: "Min-Expires",
		parse: func(raw string) (Header, error) { return parseIntHeader(KindMinExpires, raw) }})
	register(&registryEntry{kind: KindRetryAfter, canonical: "Retry-After",
		parse: func(raw string) (Header, error) { return parseIntHeader(KindRetryAfter, raw) }})
	register(&registryEntry{kind: KindRequire, canonical: "Require",
		parse: func(raw string) (Header, error) { return parseTokenList(KindRequire, raw) }})
	register(&registryEntry{kind: KindSupported, canonical: "Supported", shortForms: []string{"k"},
		parse: func(raw string) (Header, error) { return parseTokenList(KindSupported, raw) }})
	register(&registryEntry{kind: KindUnsupported, canonical: "Unsupported",
		parse: func(raw string) (Header, error) { return parseTokenList(KindUnsupported, raw) }})
	register(&registryEntry{kind: KindAllow, canonical: "Allow",
		parse: func(raw string) (Header, error) { return parseTokenList(KindAllow, raw) }})
	register(&registryEntry{kind: KindAccept, canonical: "Accept",
		parse: func(raw string) (Header, error) { return parseTokenList(KindAccept, raw) }})
}

// lookupRegistry returns the registry entry for a header name, or nil
// if the name is unrecognized (the caller falls back to GenericHeader).
func lookupRegistry(name string) *registryEntry {
	return registry[strings.ToLower(name)]
}

// parseHeaderValue dispatches a raw "Name: value" pair to its
// registered parser, or builds a GenericHeader if the name is
// unrecognized (spec.md §4.1).
func parseHeaderValue(name, rawValue string) (Header, error) {
	if e := lookupRegistry(name); e != nil {
		h, err := e.parse(rawValue)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return &GenericHeader{RawName: name, RawValue: strings.TrimSpace(rawValue)}, nil
}
