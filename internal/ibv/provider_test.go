package ibv

import (
	"errors"
	"testing"
)

// fakeCQ is a CQPoller stand-in: Poll hands out scratch-sized batches
// off a preloaded completion list, so DrainCQ's batching and
// ack-amortization logic is exercised without a real NIC.
type fakeCQ struct {
	completions []WorkCompletion
	notifyErr   error
	pollErr     error

	notifyCalls int
	ackCalls    int
	pollCalls   int
}

func (f *fakeCQ) ReqNotify(solicitedOnly bool) error {
	f.notifyCalls++
	return f.notifyErr
}

func (f *fakeCQ) MarkEventAcked() { f.ackCalls++ }

func (f *fakeCQ) Poll(out []WorkCompletion) (int, error) {
	f.pollCalls++
	if f.pollErr != nil {
		return 0, f.pollErr
	}
	n := copy(out, f.completions)
	f.completions = f.completions[n:]
	return n, nil
}

func TestDrainCQReArmsAndAcksBeforePolling(t *testing.T) {
	t.Parallel()

	cq := &fakeCQ{completions: []WorkCompletion{{WRID: 1}}}
	var got []WorkCompletion
	notifyErr, pollErr := DrainCQ(cq, make([]WorkCompletion, 4), func(wc WorkCompletion) {
		got = append(got, wc)
	})
	if notifyErr != nil || pollErr != nil {
		t.Fatalf("DrainCQ returned errors: notify=%v poll=%v", notifyErr, pollErr)
	}
	if cq.notifyCalls != 1 || cq.ackCalls != 1 {
		t.Fatalf("expected exactly one ReqNotify and one MarkEventAcked, got %d/%d", cq.notifyCalls, cq.ackCalls)
	}
	if len(got) != 1 || got[0].WRID != 1 {
		t.Fatalf("expected one completion delivered, got %v", got)
	}
}

func TestDrainCQDrainsMultipleFullBatches(t *testing.T) {
	t.Parallel()

	const scratchLen = 2
	completions := make([]WorkCompletion, 5)
	for i := range completions {
		completions[i].WRID = uint64(i + 1)
	}
	cq := &fakeCQ{completions: completions}

	var got []WorkCompletion
	_, pollErr := DrainCQ(cq, make([]WorkCompletion, scratchLen), func(wc WorkCompletion) {
		got = append(got, wc)
	})
	if pollErr != nil {
		t.Fatalf("unexpected poll error: %v", pollErr)
	}
	if len(got) != 5 {
		t.Fatalf("expected all 5 completions drained, got %d", len(got))
	}
	// 5 completions in batches of 2: full, full, short (1 < 2) stops the loop.
	if cq.pollCalls != 3 {
		t.Fatalf("expected 3 Poll calls (2 full + 1 short), got %d", cq.pollCalls)
	}
}

func TestDrainCQReportsNotifyFailureButStillDrains(t *testing.T) {
	t.Parallel()

	cq := &fakeCQ{
		completions: []WorkCompletion{{WRID: 7}},
		notifyErr:   errors.New("req_notify_cq failed"),
	}
	var got []WorkCompletion
	notifyErr, pollErr := DrainCQ(cq, make([]WorkCompletion, 4), func(wc WorkCompletion) {
		got = append(got, wc)
	})
	if notifyErr == nil {
		t.Fatalf("expected the ReqNotify failure to be reported")
	}
	if pollErr != nil {
		t.Fatalf("a ReqNotify failure must not abort the drain: %v", pollErr)
	}
	if len(got) != 1 {
		t.Fatalf("expected the already-available completion to still be drained, got %v", got)
	}
}

func TestDrainCQStopsOnPollFailure(t *testing.T) {
	t.Parallel()

	cq := &fakeCQ{pollErr: errors.New("poll_cq failed")}
	calls := 0
	_, pollErr := DrainCQ(cq, make([]WorkCompletion, 4), func(wc WorkCompletion) { calls++ })
	if pollErr == nil {
		t.Fatalf("expected the Poll failure to be returned")
	}
	if calls != 0 {
		t.Fatalf("expected no completions handled after a Poll failure")
	}
}

func TestWorkCompletionStatusString(t *testing.T) {
	t.Parallel()

	cases := map[WorkCompletionStatus]string{
		WCStatusSuccess:        "SUCCESS",
		WCStatusFlushErr:       "WR_FLUSH_ERR",
		WCStatusRNRRetryExcErr: "RNR_RETRY_EXC_ERR",
		WCStatusRetryExcErr:    "RETRY_EXC_ERR",
		WorkCompletionStatus(99): "OTHER_ERR",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d: got %q, want %q", status, got, want)
		}
	}
}
