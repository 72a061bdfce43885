package transaction

import "github.com/arzzra/sipturn/pkg/status"

func errBadState(op, state string) *status.Status {
	return status.Newf(status.Protocol, "", op, "invalid transaction state: "+state)
}

func errNotFound(op string) *status.Status {
	return status.Newf(status.Resource, "", op, "no matching transaction")
}
