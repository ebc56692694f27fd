package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// Peer is one end of a symmetric, full-duplex RPC connection: a
// single goroutine reads frames off conn and routes each one either
// to the waiter table (responses) or the dispatcher (requests), while
// any number of callers may concurrently Call out over the same conn.
type Peer struct {
	conn       io.ReadWriteCloser
	reader     *FrameReader
	dispatcher *Dispatcher
	waiters    *Waiters
	logger     *slog.Logger

	writeMu sync.Mutex
	closed  chan struct{}
	closeMu sync.Mutex
	closeOk bool
}

// NewPeer wraps conn; dispatcher may be nil for a client that never
// serves incoming requests.
func NewPeer(conn io.ReadWriteCloser, dispatcher *Dispatcher, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Peer{
		conn:       conn,
		reader:     NewFrameReader(conn),
		dispatcher: dispatcher,
		waiters:    NewWaiters(),
		logger:     logger,
		closed:     make(chan struct{}),
	}
}

// Serve runs the read loop until conn is closed or a frame-level
// protocol error occurs. It returns the terminal error (io.EOF on a
// clean close). Callers typically run Serve in its own goroutine.
func (p *Peer) Serve() error {
	defer p.markClosed()
	for {
		f, err := p.reader.ReadFrame()
		if err != nil {
			p.waiters.CancelAll()
			if errors.Is(err, io.EOF) {
				return err
			}
			return fmt.Errorf("rpc: read frame: %w", err)
		}

		if f.Meta.IsRequest() {
			go p.serveOne(f)
			continue
		}
		p.waiters.Post(f.Meta.MsgID, f)
	}
}

func (p *Peer) serveOne(req Frame) {
	respPayload, err := p.dispatcher.Dispatch(req)
	flags := req.Meta.Flags &^ FlagIsRequest
	if err != nil {
		p.logger.Warn("rpc handler failed", "method", req.Meta.Method, "err", err)
		respPayload = marshalRemoteError(err)
		flags = (flags &^ (FlagIsJSON | FlagIsCompressed)) | FlagIsError
	}
	respMeta := Meta{MsgID: req.Meta.MsgID, Flags: flags, Method: req.Meta.Method}
	if werr := p.writeFrame(respMeta, respPayload); werr != nil {
		p.logger.Warn("rpc write response failed", "method", req.Meta.Method, "err", werr)
	}
}

// Call sends a request frame for method carrying payload (already
// encoded per flags) and blocks for the matching response or ctx's
// cancellation/deadline.
func (p *Peer) Call(ctx context.Context, method string, payload []byte, flags uint8) (Frame, error) {
	id, ch := p.waiters.Alloc()
	meta := Meta{MsgID: id, Flags: flags | FlagIsRequest, Method: method}
	if err := p.writeFrame(meta, payload); err != nil {
		p.waiters.Cancel(id)
		return Frame{}, err
	}

	select {
	case resp := <-ch:
		if resp.Meta.Flags&FlagIsError != 0 {
			return Frame{}, unmarshalRemoteError(resp.Payload)
		}
		return resp, nil
	case <-ctx.Done():
		p.waiters.Cancel(id)
		return Frame{}, r2dmaerr.Wrap(r2dmaerr.KindTimeout, "rpc.Call", ctx.Err())
	case <-p.closed:
		p.waiters.Cancel(id)
		return Frame{}, r2dmaerr.New(r2dmaerr.KindSocketError, "rpc.Call: peer closed")
	}
}

func (p *Peer) writeFrame(meta Meta, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return WriteFrame(p.conn, meta, payload)
}

func (p *Peer) markClosed() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if !p.closeOk {
		p.closeOk = true
		close(p.closed)
	}
}

// Close closes the underlying connection and cancels every pending
// waiter.
func (p *Peer) Close() error {
	p.markClosed()
	p.waiters.CancelAll()
	return p.conn.Close()
}
