package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arzzra/sipturn/pkg/message"
)

// TCPTransport is a stream transport shared by both plain TCP and
// (wrapped, see tls.go) TLS: an accept loop plus an outbound dial path
// that pools connections by remote address and queues concurrent
// sends against one in-flight Dial (spec.md §4).
type TCPTransport struct {
	typ      Type
	listener net.Listener
	cfg      *Config
	pool     *pool
	gate     *connectGate
	dial     func(network, addr string) (net.Conn, error)
	listenWrap func(net.Listener) net.Listener

	onMsg MessageHandler
	onErr ErrorHandler

	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewTCPTransport(cfg *Config) *TCPTransport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &TCPTransport{
		typ: TypeTCP, cfg: cfg, pool: newPool(), gate: newConnectGate(),
		dial: func(network, addr string) (net.Conn, error) { return net.Dial(network, addr) },
	}
}

func (t *TCPTransport) Type() Type     { return t.typ }
func (t *TCPTransport) Reliable() bool { return true }
func (t *TCPTransport) Secure() bool   { return t.typ == TypeTLS }

// Listen opens the accept socket with SO_REUSEADDR set via
// golang.org/x/sys/unix, matching how production SIP stacks rebind a
// just-restarted listener without waiting out TIME_WAIT.
func (t *TCPTransport) Listen(addr string) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	if t.listenWrap != nil {
		ln = t.listenWrap(ln)
	}
	t.listener = ln
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if t.onErr != nil {
				t.onErr(err, t)
			}
			continue
		}
		tc := newTCPConn(t.typ, conn)
		key := Key{Type: t.typ, Addr: conn.RemoteAddr().String()}
		t.pool.add(key, tc)
		t.wg.Add(1)
		go t.readLoop(key, tc)
	}
}

// Send reuses a pooled connection to addr, or dials a new one,
// sharing the in-flight Dial across concurrent callers via connectGate
// and bounding the wait by Config.TCPInitialTimeout (the spec's
// TCP-connect timer).
func (t *TCPTransport) Send(msg *message.Message, addr string) error {
	if t.closed.Load() {
		return errClosed("transport.TCPTransport.Send")
	}
	key := Key{Type: t.typ, Addr: addr}
	if conn := t.pool.get(key); conn != nil {
		return conn.Send(msg.Print())
	}

	wait, owner := t.gate.begin(key, t.cfg.TCPInitialTimeout)
	if !owner {
		conn, err := wait.wait()
		if err != nil {
			return err
		}
		return conn.Send(msg.Print())
	}

	netConn, err := t.dial("tcp", addr)
	if err != nil {
		t.gate.finish(key, wait, nil, err)
		return err
	}
	tc := newTCPConn(t.typ, netConn)
	t.pool.add(key, tc)
	t.gate.finish(key, wait, tc, nil)
	t.wg.Add(1)
	go t.readLoop(key, tc)
	return tc.Send(msg.Print())
}

func (t *TCPTransport) readLoop(key Key, conn *tcpConn) {
	defer t.wg.Done()
	defer func() {
		conn.Close()
		t.pool.remove(key, conn.ID())
	}()

	reader := bufio.NewReaderSize(conn.conn, 4096)
	var accum []byte
	readBuf := make([]byte, 4096)
	for {
		total, ok, err := message.FindMessageBoundary(accum)
		if err != nil {
			if t.onErr != nil {
				t.onErr(err, t)
			}
			return
		}
		if ok {
			msg, perr := message.Parse(accum[:total])
			accum = accum[total:]
			if perr != nil {
				if t.onErr != nil {
					t.onErr(perr, t)
				}
				continue
			}
			if t.onMsg != nil {
				t.onMsg(msg, conn.RemoteAddr(), t)
			}
			continue
		}
		n, err := reader.Read(readBuf)
		if err != nil {
			if !conn.IsClosed() && t.onErr != nil {
				t.onErr(err, t)
			}
			return
		}
		accum = append(accum, readBuf[:n]...)
	}
}

func (t *TCPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.listener != nil {
		t.listener.Close()
	}
	for _, c := range t.pool.all() {
		c.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *TCPTransport) OnMessage(h MessageHandler) { t.onMsg = h }
func (t *TCPTransport) OnError(h ErrorHandler)     { t.onErr = h }
func (t *TCPTransport) LocalAddr() net.Addr {
	if t.listener != nil {
		return t.listener.Addr()
	}
	return nil
}

// tcpConn is the Connection implementation shared by TCP and TLS.
type tcpConn struct {
	id       string
	typ      Type
	conn     net.Conn
	closed   atomic.Bool
	writeMu  sync.Mutex
	keepStop chan struct{}
}

var connIDCounter atomic.Uint64

func newTCPConn(typ Type, conn net.Conn) *tcpConn {
	return &tcpConn{
		id:   "conn-" + time.Now().Format("150405.000000") + "-" + itoa(connIDCounter.Add(1)),
		typ:  typ,
		conn: conn,
	}
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (c *tcpConn) ID() string           { return c.id }
func (c *tcpConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *tcpConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *tcpConn) Type() Type           { return c.typ }
func (c *tcpConn) IsClosed() bool       { return c.closed.Load() }

func (c *tcpConn) Send(data []byte) error {
	if c.closed.Load() {
		return errClosed("transport.tcpConn.Send")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

func (c *tcpConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.keepStop != nil {
		close(c.keepStop)
	}
	return c.conn.Close()
}

// EnableKeepAlive starts a heartbeat goroutine that writes a
// double-CRLF keep-alive ping on the cadence spec.md §6's
// tcp.keep_alive_interval names, the RFC 5626/pjsip idiom for holding
// NAT bindings open on an otherwise idle pooled connection.
func (c *tcpConn) EnableKeepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(interval)
	}
	c.keepStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.keepStop:
				return
			case <-ticker.C:
				if c.closed.Load() {
					return
				}
				c.writeMu.Lock()
				_, _ = c.conn.Write([]byte("\r\n\r\n"))
				c.writeMu.Unlock()
			}
		}
	}()
}
