package transport

import "github.com/arzzra/sipturn/pkg/status"

func errClosed(op string) *status.Status {
	return status.Newf(status.Transport, status.SubClosed, op, "transport closed")
}

func errNotConnected(op string) *status.Status {
	return status.Newf(status.Transport, status.SubNotConnected, op, "no connection available")
}

func errTimeout(op string) *status.Status {
	return status.Newf(status.Timeout, status.SubTimeout, op, "operation timed out")
}
