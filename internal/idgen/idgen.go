// Package idgen generates the opaque identifiers the engine hands out
// per request instance: Via branches, From/To tags, and Call-IDs.
// Grounded on the teacher's transaction.GenerateTransactionID (a
// counter + random-bytes combination), generalized to use
// github.com/google/uuid for the entropy source instead of
// crypto/rand by hand.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// BranchMagicCookie is the RFC 3261 magic cookie every branch this
// engine generates begins with (required for P3: branch uniqueness
// and RFC-3261-compliant peer detection).
const BranchMagicCookie = "z9hG4bK"

// Branch returns a new, globally unique Via branch parameter.
func Branch() string {
	return BranchMagicCookie + compact(uuid.New())
}

// Tag returns a new From/To tag.
func Tag() string {
	return compact(uuid.New())
}

// CallID returns a new Call-ID.
func CallID() string {
	return compact(uuid.New())
}

// compact renders a UUID without dashes, keeping identifiers short
// while still carrying 122 bits of randomness.
func compact(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
