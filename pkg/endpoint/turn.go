package endpoint

import (
	"crypto/tls"

	"github.com/arzzra/sipturn/pkg/status"
	"github.com/arzzra/sipturn/pkg/turn"
)

// TurnAllocation bundles a TURN session with the socket that carries
// it, the pairing an application holds onto for the lifetime of one
// relay allocation (C7+C8 together, per spec.md §2's component table).
type TurnAllocation struct {
	Session *turn.Session
	Socket  *turn.Socket

	endpoint *Endpoint
}

// NewTurnAllocation resolves serverAddr over transport, constructs the
// session with this endpoint's configured retransmission schedule,
// and starts the Allocate handshake. The send closure forward-
// references sock: Session must exist before Socket can be dialed
// (Dial wires itself into the session's indication handling), so the
// send function itself is only invoked once sock is assigned.
func (e *Endpoint) NewTurnAllocation(transportKind turn.Transport, serverAddr, username, password string, requestedTransport byte, tlsCfg *tls.Config, cb turn.Callbacks) (*TurnAllocation, error) {
	var sock *turn.Socket
	schedule := turn.RetransmitSchedule{
		InitialRTO: e.cfg.TurnInitialRTO,
		Rc:         e.cfg.TurnRc,
		Rm:         e.cfg.TurnRm,
	}

	session := turn.NewSession(serverAddr, username, password, schedule, e.heap,
		func(msg *turn.Message) error {
			if sock == nil {
				return status.Newf(status.Transport, "", "endpoint.NewTurnAllocation", "socket not yet dialed")
			}
			return sock.SendSTUN(msg)
		}, cb, e.cfg.Logger)

	s, err := turn.Dial(transportKind, serverAddr, tlsCfg, session, e.heap, e.cfg.Logger)
	if err != nil {
		return nil, err
	}
	sock = s

	if err := session.Allocate(requestedTransport); err != nil {
		return nil, err
	}

	alloc := &TurnAllocation{Session: session, Socket: sock, endpoint: e}
	e.mu.Lock()
	e.turnAllocs = append(e.turnAllocs, alloc)
	e.mu.Unlock()
	if e.metricsOn {
		e.metrics.TurnAllocationActive(1)
	}
	return alloc, nil
}

// Close tears down the allocation's socket (which also closes any
// peer-TCP data connections) and then destroys the session.
func (a *TurnAllocation) Close() error {
	if a.endpoint != nil && a.endpoint.metricsOn {
		a.endpoint.metrics.TurnAllocationActive(-1)
	}
	err := a.Socket.Close()
	a.Session.Destroy()
	return err
}
