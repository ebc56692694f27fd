package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

func neverRespondHandler(req Frame) ([]byte, error) {
	select {}
}

func echoHandler(req Frame) ([]byte, error) {
	return req.Payload, nil
}

func failingHandler(req Frame) ([]byte, error) {
	return nil, r2dmaerr.New(r2dmaerr.KindInvalidArgument, "test.failingHandler")
}

func TestPeerCallRoundTrip(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()

	dispatcher := NewDispatcher()
	dispatcher.Handle("Echo/Echo", echoHandler)

	server := NewPeer(serverConn, dispatcher, nil)
	client := NewPeer(clientConn, nil, nil)

	go server.Serve()
	go client.Serve()
	defer server.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, "Echo/Echo", []byte("hi"), 0)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp.Payload) != "hi" {
		t.Fatalf("got payload %q, want %q", resp.Payload, "hi")
	}
}

func TestPeerCallSurfacesHandlerErrorAsTypedError(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()

	dispatcher := NewDispatcher()
	dispatcher.Handle("Bad/Method", failingHandler)
	server := NewPeer(serverConn, dispatcher, nil)
	client := NewPeer(clientConn, nil, nil)

	go server.Serve()
	go client.Serve()
	defer server.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "Bad/Method", nil, 0)
	if err == nil {
		t.Fatalf("expected an error from a failing handler")
	}
	var rerr *r2dmaerr.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a *r2dmaerr.Error, got %T (%v)", err, err)
	}
	if rerr.Kind != r2dmaerr.KindInvalidArgument {
		t.Fatalf("got Kind %v, want %v", rerr.Kind, r2dmaerr.KindInvalidArgument)
	}
}

func TestPeerCallTimesOutWithoutAResponse(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()

	dispatcher := NewDispatcher()
	dispatcher.Handle("Stuck/Method", neverRespondHandler)
	server := NewPeer(serverConn, dispatcher, nil)
	client := NewPeer(clientConn, nil, nil)

	go server.Serve()
	go client.Serve()
	defer server.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Call(ctx, "Stuck/Method", nil, 0); err == nil {
		t.Fatalf("expected a timeout error when no response ever arrives")
	}
}

func TestPeerConcurrentCalls(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()

	dispatcher := NewDispatcher()
	dispatcher.Handle("Echo/Echo", echoHandler)

	server := NewPeer(serverConn, dispatcher, nil)
	client := NewPeer(clientConn, nil, nil)

	go server.Serve()
	go client.Serve()
	defer server.Close()
	defer client.Close()

	const n = 16
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			payload := []byte{byte(i)}
			resp, err := client.Call(ctx, "Echo/Echo", payload, 0)
			if err != nil {
				errCh <- err
				return
			}
			if len(resp.Payload) != 1 || resp.Payload[0] != byte(i) {
				errCh <- err
				return
			}
			errCh <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}
}
