package message

import (
	"fmt"

	"github.com/arzzra/sipturn/pkg/status"
)

// errSyntax builds a *status.Status tagged status.Syntax/SubHeader for
// the recoverable header-level errors the parser accumulates as
// Diagnostics (spec.md §4.1's "recoverable inside one header").
func errSyntax(format string, args ...interface{}) *status.Status {
	return &status.Status{Kind: status.Syntax, Sub: status.SubHeader, Op: "message.Parse", Err: fmt.Errorf(format, args...)}
}
