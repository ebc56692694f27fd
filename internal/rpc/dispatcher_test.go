package rpc

import (
	"errors"
	"testing"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

type pingService struct{}

func (pingService) Ping(req Frame) ([]byte, error) {
	return []byte("pong"), nil
}

func (pingService) unexported(req Frame) ([]byte, error) {
	return nil, nil
}

func (pingService) WrongShape(n int) int {
	return n
}

func TestDispatcherHandleAndDispatch(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	d.Handle("Svc/Method", func(req Frame) ([]byte, error) {
		return req.Payload, nil
	})

	resp, err := d.Dispatch(Frame{Meta: Meta{Method: "Svc/Method"}, Payload: []byte("x")})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(resp) != "x" {
		t.Fatalf("got %q, want %q", resp, "x")
	}
}

func TestDispatcherUnknownMethod(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	_, err := d.Dispatch(Frame{Meta: Meta{Method: "No/Such"}})
	if err == nil {
		t.Fatalf("expected an error dispatching to an unregistered method")
	}
	var rerr *r2dmaerr.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a *r2dmaerr.Error, got %T", err)
	}
	if rerr.Kind != r2dmaerr.KindInvalidArgument {
		t.Fatalf("got Kind %v, want %v", rerr.Kind, r2dmaerr.KindInvalidArgument)
	}
}

func TestRegisterServiceOnlyRegistersMatchingExportedMethods(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	d.RegisterService("Ping", pingService{})

	resp, err := d.Dispatch(Frame{Meta: Meta{Method: "Ping/Ping"}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(resp) != "pong" {
		t.Fatalf("got %q, want %q", resp, "pong")
	}

	if _, err := d.Dispatch(Frame{Meta: Meta{Method: "Ping/unexported"}}); err == nil {
		t.Fatalf("unexported method should not have been registered")
	}
	if _, err := d.Dispatch(Frame{Meta: Meta{Method: "Ping/WrongShape"}}); err == nil {
		t.Fatalf("method with the wrong shape should not have been registered")
	}
}
