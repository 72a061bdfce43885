package turn

import (
	"net"
	"sync"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/pkg/status"
)

// DataConnState is a peer-TCP data connection's RFC 6062 §4 lifecycle.
type DataConnState int

const (
	DataConnInitSock DataConnState = iota
	DataConnBinding
	DataConnReady
	DataConnClosed
)

// DataConn is one RFC 6062 peer-TCP data connection: a fresh TCP
// connection to the TURN server, bound to a server-assigned
// CONNECTION-ID via ConnectionBind, after which it carries raw
// application bytes with no further STUN/TURN framing.
type DataConn struct {
	mu    sync.Mutex
	conn  net.Conn
	state DataConnState
	connID uint32
	peer  *net.UDPAddr
}

func (c *DataConn) State() DataConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Write sends raw bytes on a Ready data connection.
func (c *DataConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != DataConnReady {
		return 0, status.Newf(status.Protocol, "", "turn.DataConn.Write", "data connection not ready")
	}
	return c.conn.Write(b)
}

func (c *DataConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == DataConnClosed {
		return nil
	}
	c.state = DataConnClosed
	return c.conn.Close()
}

// DataConnPool is the fixed-size pool of peer-TCP data connections a
// TCP-relay allocation maintains, per spec.md §4.5: default 4, max 16,
// overflow rejects the attempt.
type DataConnPool struct {
	mu         sync.Mutex
	serverAddr string
	conns      map[string]*DataConn // keyed by peer.String()
	maxSize    int
	log        logging.Logger
}

func NewDataConnPool(initialSize, maxSize int, serverAddr string, log logging.Logger) *DataConnPool {
	if log == nil {
		log = logging.Noop()
	}
	return &DataConnPool{
		serverAddr: serverAddr,
		conns:      make(map[string]*DataConn, initialSize),
		maxSize:    maxSize,
		log:        log,
	}
}

// Accept opens a new data connection for an incoming ConnectionAttempt
// indication (peer, connID), rejecting it if the pool is already at
// capacity. The caller is responsible for sending the ConnectionBind
// request on the returned connection and transitioning it to Ready on
// the 2xx.
func (p *DataConnPool) Accept(peer *net.UDPAddr, connID uint32) (*DataConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) >= p.maxSize {
		return nil, status.Newf(status.Resource, "", "turn.DataConnPool.Accept", "data connection pool at capacity")
	}

	conn, err := net.Dial("tcp", p.serverAddr)
	if err != nil {
		return nil, status.Wrap(status.Transport, "turn.DataConnPool.Accept", err)
	}
	dc := &DataConn{conn: conn, state: DataConnInitSock, connID: connID, peer: peer}
	p.conns[peer.String()] = dc
	return dc, nil
}

// MarkBinding/MarkReady advance a data connection's lifecycle once the
// ConnectionBind request has been sent/confirmed.
func (dc *DataConn) MarkBinding() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.state = DataConnBinding
}

func (dc *DataConn) MarkReady() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.state = DataConnReady
}

// Remove drops a data connection from the pool (closed or failed to
// bind).
func (p *DataConnPool) Remove(peer *net.UDPAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := peer.String()
	if dc, ok := p.conns[key]; ok {
		_ = dc.Close()
		delete(p.conns, key)
	}
}

// CloseAll tears down every pooled data connection, on socket
// destruction.
func (p *DataConnPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, dc := range p.conns {
		_ = dc.Close()
		delete(p.conns, key)
	}
}

// Len reports the current pool occupancy, for tests and diagnostics.
func (p *DataConnPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
