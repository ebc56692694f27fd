// Package rpc implements a symmetric, full-duplex message framing
// layer: length-prefixed frames with a self-describing binary
// metadata header, an id-indexed waiter table, and method dispatch.
package rpc

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Flag bits of the metadata header.
const (
	FlagIsRequest uint8 = 1 << iota
	FlagIsJSON
	FlagIsCompressed
	// FlagIsError marks a response frame whose payload is a
	// remoteError rather than the handler's normal result: the
	// wire realization of Result<Rsp, E>.
	FlagIsError
)

// Meta is the small header preceding every frame's payload: the
// waiter-table key, flag bits, and (for requests) the dispatched
// method name.
type Meta struct {
	MsgID  uint64 `codec:"msg_id"`
	Flags  uint8  `codec:"flags"`
	Method string `codec:"method"`
}

// IsRequest reports whether this meta describes a request frame.
func (m Meta) IsRequest() bool { return m.Flags&FlagIsRequest != 0 }

// IsJSON reports whether the payload is JSON-encoded rather than the
// framework's default binary encoding.
func (m Meta) IsJSON() bool { return m.Flags&FlagIsJSON != 0 }

// IsCompressed reports whether the payload is zstd-compressed.
func (m Meta) IsCompressed() bool { return m.Flags&FlagIsCompressed != 0 }

var msgpackHandle codec.MsgpackHandle

// encodeMeta serializes meta with a self-describing binary encoding,
// so decodeMeta needs no external schema.
func encodeMeta(meta Meta) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &msgpackHandle)
	if err := enc.Encode(meta); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodeMeta is the inverse of encodeMeta.
func decodeMeta(raw []byte) (Meta, error) {
	var meta Meta
	dec := codec.NewDecoderBytes(raw, &msgpackHandle)
	if err := dec.Decode(&meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}
