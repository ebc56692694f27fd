//go:build linux && cgo && rdma_hardware

package socket

// Scenarios S2 (loopback send/recv), S3 (flow-control saturation under
// 20,000 sends), and S4 (forced error draining to ready_to_remove) all
// require two queue pairs connected over a real or software (rxe/siw)
// RDMA device — they exercise ibv_post_send/ibv_poll_cq against an
// actual provider and cannot be faked with the platform stub. This
// file carries the rdma_hardware build tag for such tests, but it
// contains no test functions: no test in this repository drives a
// queue pair over a device.
