package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/klauspost/compress/zstd"
)

// payload codec: a request/response body is marshaled either with the
// framework's default binary encoding (msgpack, matching Meta) or, if
// the caller asked for it, JSON — then optionally zstd-compressed,
// per Meta's IsJSON/IsCompressed bits.

var (
	zstdEncoderPool = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic(err)
		}
		return enc
	}}
	zstdDecoder     *zstd.Decoder
	zstdDecoderOnce sync.Once
	zstdDecoderErr  error
)

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
	})
	return zstdDecoder, zstdDecoderErr
}

// MarshalPayload encodes v per flags and returns the resulting bytes,
// ready to hand to EncodeFrame/WriteFrame.
func MarshalPayload(v any, flags uint8) ([]byte, error) {
	var raw []byte
	var err error
	if flags&FlagIsJSON != 0 {
		raw, err = json.Marshal(v)
	} else {
		raw, err = encodePayload(v)
	}
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal payload: %w", err)
	}

	if flags&FlagIsCompressed != 0 {
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		defer zstdEncoderPool.Put(enc)
		var buf bytes.Buffer
		enc.Reset(&buf)
		if _, err := enc.Write(raw); err != nil {
			return nil, fmt.Errorf("rpc: compress payload: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("rpc: compress payload: %w", err)
		}
		raw = buf.Bytes()
	}
	return raw, nil
}

// UnmarshalPayload decodes raw into v per flags, the inverse of
// MarshalPayload.
func UnmarshalPayload(raw []byte, flags uint8, v any) error {
	if flags&FlagIsCompressed != 0 {
		dec, err := getZstdDecoder()
		if err != nil {
			return fmt.Errorf("rpc: zstd decoder: %w", err)
		}
		decompressed, err := dec.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("rpc: decompress payload: %w", err)
		}
		raw = decompressed
	}

	if flags&FlagIsJSON != 0 {
		return json.Unmarshal(raw, v)
	}
	return decodePayload(raw, v)
}

func encodePayload(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodePayload(raw []byte, v any) error {
	dec := codec.NewDecoderBytes(raw, &msgpackHandle)
	return dec.Decode(v)
}
