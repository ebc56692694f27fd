// Package echo is the demonstration service wired into cmd/r2dma-server
// and cmd/r2dma-client: a single round trip exercising the full RPC
// stack (dispatch, meta codec, payload codec) over whichever
// transport the caller dials.
package echo

import (
	"github.com/rdma-go/r2dma/internal/rpc"
)

// Request is the Echo method's payload.
type Request struct {
	Message string `codec:"message"`
}

// Response is the Echo method's reply payload.
type Response struct {
	Message string `codec:"message"`
}

// Service implements the "Echo/Echo" RPC method: it decodes Request
// per the frame's flags, uppercases nothing and changes nothing — it
// returns the message unchanged, wrapped back up in Response — so a
// client can tell a round trip actually reached the server.
type Service struct{}

// Echo is exported so Dispatcher.RegisterService can find it; its
// signature matches rpc.Handler.
func (Service) Echo(req rpc.Frame) ([]byte, error) {
	var in Request
	if err := rpc.UnmarshalPayload(req.Payload, req.Meta.Flags, &in); err != nil {
		return nil, err
	}
	out := Response{Message: in.Message}
	return rpc.MarshalPayload(out, req.Meta.Flags)
}
