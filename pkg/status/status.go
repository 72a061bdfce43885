// Package status defines the tagged status/error vocabulary shared by
// every layer of the engine (message, transport, transaction, dialog,
// turn). It generalizes the teacher's per-package error taxonomies
// (pkg/sip/core/errors.SIPError, pkg/dialog/error_types.go's
// ErrorCategory/ErrorSeverity) into one cross-cutting type instead of
// each package inventing its own.
package status

import "fmt"

// Kind is the outermost classification of a Status, matching the
// taxonomy fixed by the specification.
type Kind int

const (
	// OK indicates success. Zero value so a zero Status is "ok".
	OK Kind = iota
	// Pending indicates the operation was queued for asynchronous
	// completion; a callback will deliver the terminal status.
	Pending
	// Syntax indicates malformed wire data.
	Syntax
	// Transport indicates a wire I/O failure.
	Transport
	// Timeout indicates a protocol timer expired (transaction B/F/H,
	// or TURN's RFC 5389 Rm).
	Timeout
	// Protocol indicates a well-formed message that violates state.
	Protocol
	// Auth indicates a 401/407 challenge not recoverable by the
	// credential list.
	Auth
	// Resource indicates a table, pool, or buffer was exhausted.
	Resource
	// Cancelled indicates destruction by the user before completion.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Pending:
		return "pending"
	case Syntax:
		return "syntax"
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	case Protocol:
		return "protocol"
	case Auth:
		return "auth"
	case Resource:
		return "resource"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SubKind further qualifies a Status within its Kind, e.g. the
// syntax/transport sub-kinds named in the specification.
type SubKind string

const (
	SubStartLine        SubKind = "start_line"
	SubHeader           SubKind = "header"
	SubFraming          SubKind = "framing"
	SubMissingRequired  SubKind = "missing_required"
	SubNotConnected     SubKind = "not_connected"
	SubClosed           SubKind = "closed"
	SubTimeout          SubKind = "timeout"
	SubTLSHandshake     SubKind = "tls_handshake"
	SubAddressUnreach   SubKind = "address_unreachable"
)

// Status is the tagged result type returned (or wrapped as an error)
// by every operation in this module.
type Status struct {
	Kind    Kind
	Sub     SubKind
	Op      string // operation that produced the status, e.g. "parser.ParseMessage"
	Context string // free-form context, e.g. a header name or peer address
	Err     error  // wrapped cause, if any
}

// New builds a Status of the given kind.
func New(kind Kind, op string) *Status {
	return &Status{Kind: kind, Op: op}
}

// Newf builds a Status with a sub-kind and context.
func Newf(kind Kind, sub SubKind, op, context string) *Status {
	return &Status{Kind: kind, Sub: sub, Op: op, Context: context}
}

// Wrap attaches an underlying cause to a Status.
func Wrap(kind Kind, op string, err error) *Status {
	return &Status{Kind: kind, Op: op, Err: err}
}

func (s *Status) Error() string {
	if s == nil {
		return "ok"
	}
	msg := s.Kind.String()
	if s.Sub != "" {
		msg += "/" + string(s.Sub)
	}
	if s.Op != "" {
		msg = s.Op + ": " + msg
	}
	if s.Context != "" {
		msg += " (" + s.Context + ")"
	}
	if s.Err != nil {
		msg += ": " + s.Err.Error()
	}
	return msg
}

func (s *Status) Unwrap() error {
	if s == nil {
		return nil
	}
	return s.Err
}

// Is reports whether err is a Status of the given Kind, so callers can
// write `status.Is(err, status.Timeout)`.
func Is(err error, kind Kind) bool {
	var s *Status
	if e, ok := err.(*Status); ok {
		s = e
	} else {
		return false
	}
	return s != nil && s.Kind == kind
}

// OKStatus reports whether err is nil (the universal "ok").
func OKStatus(err error) bool {
	return err == nil
}

// Record is the structured log record the endpoint emits once per
// error, per the specification's "one structured record per error"
// requirement.
type Record struct {
	File    string
	Line    int
	Status  *Status
	Context map[string]string
}

func (r Record) String() string {
	return fmt.Sprintf("%s:%d %v %v", r.File, r.Line, r.Status, r.Context)
}
