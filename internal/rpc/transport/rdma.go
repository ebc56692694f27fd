package transport

import (
	"io"
	"sync"

	"github.com/rdma-go/r2dma/internal/bufpool"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
	"github.com/rdma-go/r2dma/internal/socket"
)

// RDMAConn adapts one internal/socket.Socket — a message channel — to
// the byte-stream Conn interface rpc.Peer drives, keeping the RPC
// layer carrier-agnostic. Outbound writes are chunked
// to the buffer pool's block size and posted as ordered sends;
// inbound bytes are delivered in order through the socket's receive
// handler.
//
// Read's backpressure is deliberate: the handler installed on the
// socket blocks until a caller drains recvCh, which in turn delays
// reposting the receive buffer (internal/socket.Socket.repostRecv),
// which in turn holds back the flow-control credit the remote side is
// waiting on. A slow RPC consumer throttles its own inbound stream
// instead of the event loop buffering unboundedly.
type RDMAConn struct {
	sock    *socket.Socket
	bufPool *bufpool.Pool

	recvCh chan []byte
	rest   []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRDMAConn wires sock's receive handler into an ordered byte
// stream and returns the adapter. sock must not already have a
// receive handler installed.
func NewRDMAConn(sock *socket.Socket, bufPool *bufpool.Pool) *RDMAConn {
	c := &RDMAConn{
		sock:    sock,
		bufPool: bufPool,
		recvCh:  make(chan []byte),
		closed:  make(chan struct{}),
	}
	sock.SetRecvHandler(func(data []byte, immediate uint32, hasImm bool) {
		select {
		case c.recvCh <- data:
		case <-c.closed:
		}
	})
	return c
}

// Read implements io.Reader by draining buffered receive chunks in
// arrival order.
func (c *RDMAConn) Read(p []byte) (int, error) {
	if len(c.rest) == 0 {
		select {
		case chunk, ok := <-c.recvCh:
			if !ok {
				return 0, io.EOF
			}
			c.rest = chunk
		case <-c.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

// Write implements io.Writer by chunking p to the buffer pool's block
// size and posting each chunk as a blocking send: Write does not
// return until every chunk's completion has landed, matching the
// synchronous semantics rpc.Peer.writeFrame expects from io.Writer.
func (c *RDMAConn) Write(p []byte) (int, error) {
	written := 0
	chunkSize := c.bufPool.BlockSize()
	for len(p) > 0 {
		n := len(p)
		if n > chunkSize {
			n = chunkSize
		}

		buf, err := c.bufPool.Allocate()
		if err != nil {
			return written, err
		}
		copy(buf.Bytes(), p[:n])

		done := make(chan bool, 1)
		if err := c.sock.SubmitSend(buf, uint32(n), 0, false, func(ok bool) { done <- ok }); err != nil {
			buf.Release()
			return written, err
		}

		select {
		case ok := <-done:
			if !ok {
				return written, r2dmaerr.SocketError
			}
		case <-c.closed:
			return written, r2dmaerr.New(r2dmaerr.KindSocketError, "rdma conn closed while writing")
		}

		written += n
		p = p[n:]
	}
	return written, nil
}

// Close marks the adapter closed and forces the underlying socket
// into its error/teardown path.
func (c *RDMAConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.sock.SetError()
	})
	return nil
}
