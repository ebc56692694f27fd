// Package transport supplies the two wire carriers rpc.Peer can run
// over: a TCP transport (a socket pool sharded by peer address, each
// connection backed by its own sender task) and an RDMA transport
// adapting internal/socket's message channel to the byte-stream Conn
// interface rpc.Peer expects.
package transport

import (
	"context"
	"io"
)

// Conn is a single full-duplex byte stream carrying framed RPC
// traffic; both the TCP and RDMA transports produce one per peer.
type Conn = io.ReadWriteCloser

// Dialer opens an outbound Conn to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listener accepts inbound Conns.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Transport is the symmetric carrier: every endpoint can both dial out
// and listen, matching the full-duplex peer model rpc.Peer expects.
type Transport interface {
	Dialer
	Listen(addr string) (Listener, error)
}
