package ibv

// CQPoller is the subset of CompQueue's behavior the completion-drain
// loop needs: re-arm the completion channel for the next event,
// acknowledge the one that just fired, and poll for completions in
// batches. The real, cgo-backed CompQueue implements it; tests
// exercise DrainCQ against a fake instead, the same split
// internal/netdev draws between its ethtool-backed client and a stub.
type CQPoller interface {
	ReqNotify(solicitedOnly bool) error
	MarkEventAcked()
	Poll(out []WorkCompletion) (int, error)
}

var _ CQPoller = (*CompQueue)(nil)

// DrainCQ re-arms cq for its next event, acknowledges the event that
// just fired, then polls cq in batches of len(scratch) until a short
// batch signals it is empty, invoking handle for every completion in
// arrival order. notifyErr is ReqNotify's result (non-fatal: the
// drain still runs so no completion already posted is missed);
// pollErr, if non-nil, means the drain stopped early.
func DrainCQ(cq CQPoller, scratch []WorkCompletion, handle func(WorkCompletion)) (notifyErr, pollErr error) {
	notifyErr = cq.ReqNotify(false)
	cq.MarkEventAcked()

	for {
		n, err := cq.Poll(scratch)
		if err != nil {
			return notifyErr, err
		}
		for i := 0; i < n; i++ {
			handle(scratch[i])
		}
		if n < len(scratch) {
			return notifyErr, nil
		}
	}
}
