package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/cipherdesk/relay/internal/wire"
)

// acceptTimeout bounds how long the listener blocks between accept
// attempts, so the accept loop can notice Listener.Close promptly
// instead of parking forever in Accept.
const acceptTimeout = 500 * time.Millisecond

// connEvent is one unit of work handed from a reader goroutine to the
// engine: either a decoded frame, or a terminal read error meaning the
// connection is gone.
type connEvent struct {
	id    string
	frame wire.Frame
	err   error
}

// Listener owns the TCP listener and the per-connection reader
// goroutines that feed an Engine's event channel. It is the Go-native
// stand-in for the original accept loop's select(2)-based multiplexing:
// one goroutine blocks in Accept, one goroutine per connection blocks in
// Read, and the engine goroutine is the only one that ever touches
// session state or writes to a client socket.
type Listener struct {
	ln     *net.TCPListener
	engine *Engine
	done   chan struct{}
}

// Listen binds addr and returns a Listener ready to Serve. addr is
// passed straight to net.ResolveTCPAddr, e.g. ":7777" or "0.0.0.0:7777".
func Listen(addr string, engine *Engine) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve address: %w", err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	return &Listener{ln: ln, engine: engine, done: make(chan struct{})}, nil
}

// Addr returns the bound local address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve runs the accept loop until Close is called. It returns nil on a
// clean shutdown.
func (l *Listener) Serve() error {
	for {
		select {
		case <-l.done:
			return nil
		default:
		}

		if err := l.ln.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return fmt.Errorf("server: set accept deadline: %w", err)
		}
		conn, err := l.ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-l.done:
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		l.acceptConn(conn)
	}
}

func (l *Listener) acceptConn(conn net.Conn) {
	id := uuid.NewString()
	ip, port := hostPort(conn.RemoteAddr())

	cc := &clientConn{id: id, conn: conn, state: stateUnauth, remoteIP: ip, remotePort: port}

	req := controlRequest{
		fn:   func(e *Engine) { e.conns[id] = cc },
		done: make(chan struct{}),
	}
	l.engine.control <- req
	<-req.done

	go l.readLoop(cc)
}

// readLoop is the per-connection goroutine: it blocks in ReadFrame and
// forwards every frame or terminal error to the engine's event channel.
// It never touches session state directly.
func (l *Listener) readLoop(cc *clientConn) {
	for {
		frame, err := wire.ReadFrame(cc.conn)
		if err != nil {
			l.engine.events <- connEvent{id: cc.id, err: err}
			return
		}
		l.engine.events <- connEvent{id: cc.id, frame: frame}
	}
}

// Close stops the accept loop and closes the listening socket. It does
// not close already-accepted connections; those are torn down by the
// engine as their reader goroutines report closure or as Engine.Stop is
// called.
func (l *Listener) Close() error {
	close(l.done)
	return l.ln.Close()
}

func hostPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}
