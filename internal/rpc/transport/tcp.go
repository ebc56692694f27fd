package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// TCP is the plain-socket transport. Dial returns a
// pooled connection: up to MaxConnPerPeer live TCP connections are
// kept per remote address and handed out round robin, so a busy peer
// fans its RPC traffic out over several sockets instead of
// serializing everything onto one. Every Conn it hands out — dialed
// or accepted — is backed by a per-connection sender task rather than
// a bare net.Conn; see sendConn below.
type TCP struct {
	dialer net.Dialer

	// MaxConnPerPeer bounds the pool shard size for one peer address;
	// zero means unbounded (a new Dial always opens a new socket).
	MaxConnPerPeer int

	mu    sync.Mutex
	pools map[string][]Conn
	next  map[string]int
}

// NewTCP constructs a transport pooling up to maxConnPerPeer
// connections per remote address (0 disables pooling).
func NewTCP(maxConnPerPeer int) *TCP {
	return &TCP{
		MaxConnPerPeer: maxConnPerPeer,
		pools:          make(map[string][]Conn),
		next:           make(map[string]int),
	}
}

// Dial returns a connection to addr, reusing one from the peer's pool
// shard when the shard is already at capacity.
func (t *TCP) Dial(ctx context.Context, addr string) (Conn, error) {
	if t.MaxConnPerPeer > 0 {
		if c, ok := t.takePooled(addr); ok {
			return c, nil
		}
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindTCPConnect, fmt.Sprintf("dial %s", addr), err)
	}
	sc := newSendConn(conn)

	if t.MaxConnPerPeer > 0 {
		t.addToPool(addr, sc)
	}
	return sc, nil
}

func (t *TCP) takePooled(addr string) (Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	shard := t.pools[addr]
	if len(shard) < t.MaxConnPerPeer {
		return nil, false
	}
	idx := t.next[addr] % len(shard)
	t.next[addr] = idx + 1
	return shard[idx], true
}

func (t *TCP) addToPool(addr string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pools[addr] = append(t.pools[addr], conn)
}

// Listen opens a TCP listener on addr ("host:port").
func (t *TCP) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindTCPConnect, fmt.Sprintf("listen %s", addr), err)
	}
	return &tcpListener{ln: ln}, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindTCPConnect, "accept", err)
	}
	return newSendConn(conn), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }
func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

// sendBatchLimit bounds how many queued writes one vectored send
// gathers at a time.
const sendBatchLimit = 64

// sendQueueDepth bounds how many not-yet-flushed writes Write will
// accept before it starts applying backpressure to its caller.
const sendQueueDepth = 256

// sendConn wraps a net.Conn with the one sender task per outbound
// connection: Write hands its argument to an in-memory channel rather
// than touching the socket directly, and a single goroutine drains
// that channel, gathering up to sendBatchLimit pending writes into one
// net.Buffers gather-write, looping until the channel is closed.
type sendConn struct {
	net.Conn

	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newSendConn(c net.Conn) *sendConn {
	sc := &sendConn{
		Conn:  c,
		queue: make(chan []byte, sendQueueDepth),
		done:  make(chan struct{}),
	}
	go sc.sendLoop()
	return sc
}

// Write queues p for the sender task and returns once it has been
// accepted (not once it has reached the wire); a send failure surfaces
// on the next Write or Close call, and also tears down Conn so the
// read side observes it as a connection error.
func (sc *sendConn) Write(p []byte) (int, error) {
	if err := sc.loadErr(); err != nil {
		return 0, err
	}
	buf := append([]byte(nil), p...)
	select {
	case sc.queue <- buf:
		return len(p), nil
	case <-sc.done:
		return 0, sc.loadErr()
	}
}

func (sc *sendConn) sendLoop() {
	defer close(sc.done)
	batch := make(net.Buffers, 0, sendBatchLimit)
	for {
		first, ok := <-sc.queue
		if !ok {
			return
		}
		batch = append(batch[:0], first)
	drain:
		for len(batch) < sendBatchLimit {
			select {
			case b, ok := <-sc.queue:
				if !ok {
					break drain
				}
				batch = append(batch, b)
			default:
				break drain
			}
		}

		if _, err := batch.WriteTo(sc.Conn); err != nil {
			sc.storeErr(r2dmaerr.Wrap(r2dmaerr.KindTCPSend, "tcp sender task", err))
			sc.Conn.Close()
			return
		}
	}
}

func (sc *sendConn) storeErr(err error) {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	if sc.err == nil {
		sc.err = err
	}
}

func (sc *sendConn) loadErr() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Close stops accepting new writes, waits for the sender task to
// drain and exit, then closes the underlying connection.
func (sc *sendConn) Close() error {
	sc.closeOnce.Do(func() { close(sc.queue) })
	<-sc.done
	return sc.Conn.Close()
}
