package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/arzzra/sipturn/pkg/message"
)

// UDPTransport sends/receives one datagram per message, framed by the
// OS datagram boundary rather than Content-Length (spec.md §4.1).
// Structurally this follows the teacher's UDPTransport
// (pkg/sip/transport/udp.go): a single receive goroutine over one
// shared socket, atomic counters, context-free close via a closed
// flag.
type UDPTransport struct {
	conn   *net.UDPConn
	addr   *net.UDPAddr
	cfg    *Config
	onMsg  MessageHandler
	onErr  ErrorHandler

	closed  atomic.Bool
	closeCh chan struct{}

	received atomic.Uint64
	sent     atomic.Uint64
	errs     atomic.Uint64
}

func NewUDPTransport(cfg *Config) *UDPTransport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &UDPTransport{cfg: cfg, closeCh: make(chan struct{})}
}

func (t *UDPTransport) Type() Type    { return TypeUDP }
func (t *UDPTransport) Reliable() bool { return false }
func (t *UDPTransport) Secure() bool   { return false }

func (t *UDPTransport) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	if t.cfg.ReadBufferSize > 0 {
		_ = conn.SetReadBuffer(t.cfg.ReadBufferSize)
	}
	if t.cfg.WriteBufferSize > 0 {
		_ = conn.SetWriteBuffer(t.cfg.WriteBufferSize)
	}
	t.conn = conn
	t.addr = conn.LocalAddr().(*net.UDPAddr)
	go t.readLoop()
	return nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, 65535)
	for {
		select {
		case <-t.closeCh:
			return
		default:
		}
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.errs.Add(1)
			if t.onErr != nil {
				t.onErr(err, t)
			}
			continue
		}
		t.received.Add(1)
		data := make([]byte, n)
		copy(data, buf[:n])
		msg, perr := message.Parse(data)
		if perr != nil {
			t.errs.Add(1)
			if t.onErr != nil {
				t.onErr(perr, t)
			}
			continue
		}
		if t.onMsg != nil {
			t.onMsg(msg, remote, t)
		}
	}
}

func (t *UDPTransport) Send(msg *message.Message, addr string) error {
	if t.closed.Load() {
		return errClosed("transport.UDPTransport.Send")
	}
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	data := msg.Print()
	if t.cfg.WriteBufferSize > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	if _, err := t.conn.WriteToUDP(data, remote); err != nil {
		t.errs.Add(1)
		return err
	}
	t.sent.Add(1)
	return nil
}

func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.closeCh)
	return t.conn.Close()
}

func (t *UDPTransport) OnMessage(h MessageHandler) { t.onMsg = h }
func (t *UDPTransport) OnError(h ErrorHandler)     { t.onErr = h }
func (t *UDPTransport) LocalAddr() net.Addr        { return t.addr }

// Stats returns the running received/sent/error counters.
func (t *UDPTransport) Stats() (received, sent, errs uint64) {
	return t.received.Load(), t.sent.Load(), t.errs.Load()
}
