// Package rdmamgr composes the device registry, buffer pool, work
// pool, and per-device channels/event loops into the single entry
// point application code uses to create sockets.
package rdmamgr

import (
	"log/slog"
	"sync/atomic"

	"github.com/rdma-go/r2dma/internal/bufpool"
	"github.com/rdma-go/r2dma/internal/device"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
	"github.com/rdma-go/r2dma/internal/socket"
	"github.com/rdma-go/r2dma/internal/workpool"
)

const defaultTaskQueueDepth = 1024

// Config collects every recognized configuration key: RDMA
// buffer/work-pool sizing, device selection, and per-socket
// queue-pair sizing (including the notification batch and initial
// receive count, both configurable rather than hard-coded).
type Config struct {
	Devices          device.Config
	Buffer           bufpool.Config
	WorkPoolSize     int
	Socket           socket.Config
	TaskQueueDepth   int
}

// Manager wires devices, pools, channels and event-loop threads
// together and is the factory for sockets.
type Manager struct {
	registry *device.Registry
	bufPool  *bufpool.Pool
	workPool *workpool.Pool
	channels []*socket.Channel
	loops    []*socket.EventLoop
	cfg      Config
	logger   *slog.Logger
	next     atomic.Uint64
}

// New opens devices, creates the buffer pool and work pool sized by
// cfg, and spins up one channel and one event-loop goroutine per
// device.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TaskQueueDepth <= 0 {
		cfg.TaskQueueDepth = defaultTaskQueueDepth
	}

	registry, err := device.Open(cfg.Devices, logger)
	if err != nil {
		return nil, err
	}

	bufPool, err := bufpool.New(cfg.Buffer, registry.Devices())
	if err != nil {
		registry.Close()
		return nil, err
	}

	workPool, err := workpool.New(cfg.WorkPoolSize)
	if err != nil {
		bufPool.Close()
		registry.Close()
		return nil, err
	}

	m := &Manager{registry: registry, bufPool: bufPool, workPool: workPool, cfg: cfg, logger: logger}

	for _, dev := range registry.Devices() {
		compChannel, err := dev.Ctx.CreateCompChannel()
		if err != nil {
			m.Close()
			return nil, err
		}
		ch, err := socket.NewChannel(compChannel, cfg.TaskQueueDepth)
		if err != nil {
			compChannel.Close()
			m.Close()
			return nil, err
		}
		loop := socket.NewEventLoop(ch, logger)
		m.channels = append(m.channels, ch)
		m.loops = append(m.loops, loop)
		go loop.Run()
	}

	return m, nil
}

// CreateSocket picks the next device by round robin, creates and
// enrolls a socket against it, and posts its initial receives.
func (m *Manager) CreateSocket() (*socket.Socket, error) {
	if len(m.channels) == 0 {
		return nil, r2dmaerr.New(r2dmaerr.KindDeviceNotFound, "rdmamgr.CreateSocket: no devices")
	}
	idx := int(m.next.Add(1)-1) % len(m.channels)
	dev := m.registry.Devices()[idx]
	return socket.New(dev, idx, m.bufPool, m.workPool, m.channels[idx], m.cfg.Socket, m.logger)
}

// Devices exposes the opened device list, mostly for diagnostics and
// endpoint exchange (GID/LID selection).
func (m *Manager) Devices() []*device.Device { return m.registry.Devices() }

// BufferPool exposes the shared buffer pool so callers such as
// internal/metrics and internal/rpc/transport can allocate from and
// report occupancy on the same pool sockets use.
func (m *Manager) BufferPool() *bufpool.Pool { return m.bufPool }

// WorkPool exposes the shared work descriptor pool, mostly for
// occupancy metrics.
func (m *Manager) WorkPool() *workpool.Pool { return m.workPool }

// StopAndJoin cancels each channel (setting its stopping flag and
// waking the loop) and joins every event-loop goroutine, then releases
// pools and devices.
func (m *Manager) StopAndJoin() {
	for _, ch := range m.channels {
		ch.Stop()
	}
	for _, loop := range m.loops {
		loop.Wait()
	}
	m.Close()
}

// Close releases channels, pools, and devices without waiting for
// event loops to observe a stop — callers that already joined the
// loops via StopAndJoin get this for free; it is also used to unwind
// partial construction failures in New.
func (m *Manager) Close() {
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			m.logger.Warn("channel close failed", "err", err)
		}
	}
	m.channels = nil
	m.loops = nil
	if m.bufPool != nil {
		if err := m.bufPool.Close(); err != nil {
			m.logger.Warn("buffer pool close failed", "err", err)
		}
	}
	if m.registry != nil {
		m.registry.Close()
	}
}
