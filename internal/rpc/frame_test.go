package rpc

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	t.Parallel()

	meta := Meta{MsgID: 42, Flags: FlagIsRequest, Method: "Echo/Echo"}
	payload := []byte("hello")

	encoded, err := EncodeFrame(meta, payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	fr := NewFrameReader(bytes.NewReader(encoded))
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if got.Meta != meta {
		t.Fatalf("meta mismatch: got %+v, want %+v", got.Meta, meta)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, payload)
	}
}

func TestFrameReaderConcatenatedFrames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	want := make([]Frame, 0, 5)
	for i := 0; i < 5; i++ {
		meta := Meta{MsgID: uint64(i), Flags: 0, Method: "A/B"}
		payload := bytes.Repeat([]byte{byte(i)}, i+1)
		f, err := EncodeFrame(meta, payload)
		if err != nil {
			t.Fatalf("EncodeFrame %d: %v", i, err)
		}
		buf.Write(f)
		want = append(want, Frame{Meta: meta, Payload: payload})
	}

	fr := NewFrameReader(&buf)
	for i, w := range want {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if got.Meta != w.Meta || !bytes.Equal(got.Payload, w.Payload) {
			t.Fatalf("frame %d mismatch: got %+v, want %+v", i, got, w)
		}
	}
}

func TestEncodeFrameRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	_, err := EncodeFrame(Meta{}, make([]byte, maxBodyLen+1))
	if err == nil {
		t.Fatalf("expected an error for a body exceeding the cap")
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	t.Parallel()

	bad := []byte("xxxx" + "\x00\x00\x00\x04" + "\x00\x00\x00\x00")
	fr := NewFrameReader(bytes.NewReader(bad))
	if _, err := fr.ReadFrame(); err == nil {
		t.Fatalf("expected an error for a bad magic")
	}
}
