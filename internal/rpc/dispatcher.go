package rpc

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// Handler serves one request frame and returns the bytes (already
// encoded per the request's flags) to send back as the response
// payload.
type Handler func(req Frame) ([]byte, error)

// Dispatcher is a "Service/method" registry: each registered service
// contributes its exported methods as handlers, keyed by a stable,
// precomputed string rather than reflection at call time.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Handle registers fn under method, overwriting any previous
// registration — callers normally do this once at startup.
func (d *Dispatcher) Handle(method string, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = fn
}

// RegisterService reflects over svc's exported methods and registers
// each one under "ServiceName/MethodName", matching the call
// convention Meta.Method uses on the wire. A method must have the
// shape func(Frame) ([]byte, error) to be picked up; others are
// skipped silently, the way net/rpc's registration ignores
// non-conforming methods.
func (d *Dispatcher) RegisterService(name string, svc any) {
	v := reflect.ValueOf(svc)
	t := v.Type()
	handlerType := reflect.TypeOf((*Handler)(nil)).Elem()

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		method := v.Method(i)
		if !method.Type().ConvertibleTo(handlerType) {
			continue
		}
		fn := method.Interface().(func(Frame) ([]byte, error))
		d.Handle(fmt.Sprintf("%s/%s", name, m.Name), fn)
	}
}

// Dispatch looks up and invokes the handler named by req's method.
func (d *Dispatcher) Dispatch(req Frame) ([]byte, error) {
	d.mu.RLock()
	fn, ok := d.handlers[req.Meta.Method]
	d.mu.RUnlock()
	if !ok {
		return nil, r2dmaerr.New(r2dmaerr.KindInvalidArgument, fmt.Sprintf("rpc.Dispatch: no handler registered for method %q", req.Meta.Method))
	}
	return fn(req)
}
