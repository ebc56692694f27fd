package rpc

import (
	"errors"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// remoteError is the wire encoding of a dispatcher-side failure: a
// response frame carries one of these instead of the handler's
// result, flagged by FlagIsError, so a caller can reconstruct a typed
// *r2dmaerr.Error instead of just learning the call failed. It is
// always msgpack-encoded regardless of the request's IsJSON/
// IsCompressed bits, since it's framework-internal, not user payload.
type remoteError struct {
	Kind    int    `codec:"kind"`
	Op      string `codec:"op"`
	Message string `codec:"msg"`
}

// marshalRemoteError encodes err as a remoteError payload. Encoding
// failure falls back to a bare-message envelope rather than losing
// the fact that the call failed.
func marshalRemoteError(err error) []byte {
	re := remoteError{Kind: int(r2dmaerr.KindUnknown), Message: err.Error()}
	var rerr *r2dmaerr.Error
	if errors.As(err, &rerr) {
		re.Kind = int(rerr.Kind)
		re.Op = rerr.Op
	}
	raw, encErr := encodePayload(re)
	if encErr != nil {
		raw, _ = encodePayload(remoteError{Kind: int(r2dmaerr.KindUnknown), Message: err.Error()})
	}
	return raw
}

// unmarshalRemoteError is the inverse of marshalRemoteError, used by
// Call when a response frame arrives with FlagIsError set.
func unmarshalRemoteError(payload []byte) error {
	var re remoteError
	if err := decodePayload(payload, &re); err != nil {
		return r2dmaerr.Wrap(r2dmaerr.KindDeserialize, "rpc.Call: decode remote error", err)
	}
	return &r2dmaerr.Error{Kind: r2dmaerr.Kind(re.Kind), Op: re.Op, Err: errors.New(re.Message)}
}
