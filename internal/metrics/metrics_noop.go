//go:build !prometheus

package metrics

import "time"

// noopCollector satisfies Collector without the prometheus dependency,
// the default build mirroring the teacher's metrics_simple.go.
type noopCollector struct{}

// Collector is the metrics surface every component records against.
type Collector interface {
	TransactionCreated(kind string)
	TransactionCompleted(kind string, d time.Duration)
	TransactionTimedOut(kind string)
	DialogCreated()
	DialogTerminated(d time.Duration)
	TransportBytesSent(scheme string, n int)
	TransportBytesRecv(scheme string, n int)
	TransportError(scheme string)
	TurnAllocationActive(delta int)
	TurnChannelActive(delta int)
	TurnPermissionActive(delta int)
}

// New returns a Collector that discards everything; build with
// -tags prometheus to get the real implementation.
func New(namespace, subsystem string) Collector { return noopCollector{} }

func (noopCollector) TransactionCreated(string)              {}
func (noopCollector) TransactionCompleted(string, time.Duration) {}
func (noopCollector) TransactionTimedOut(string)             {}
func (noopCollector) DialogCreated()                         {}
func (noopCollector) DialogTerminated(time.Duration)         {}
func (noopCollector) TransportBytesSent(string, int)         {}
func (noopCollector) TransportBytesRecv(string, int)         {}
func (noopCollector) TransportError(string)                  {}
func (noopCollector) TurnAllocationActive(int)               {}
func (noopCollector) TurnChannelActive(int)                  {}
func (noopCollector) TurnPermissionActive(int)                {}
