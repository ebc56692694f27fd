package socket

import "testing"

func TestApplySendWindowInvariant(t *testing.T) {
	t.Parallel()

	s := NewState(16)
	for i := 0; i < 16; i++ {
		idx, ok := s.ApplySend()
		if !ok {
			t.Fatalf("ApplySend %d: unexpected error bit", i)
		}
		if !s.CheckSendIndex(idx) {
			t.Fatalf("ApplySend %d: index %d should be postable within the initial window", i, idx)
		}
	}

	idx, ok := s.ApplySend()
	if !ok {
		t.Fatalf("ApplySend: unexpected error bit")
	}
	if s.CheckSendIndex(idx) {
		t.Fatalf("index %d should exceed the 16-deep window before any completion advances remote_completed", idx)
	}

	s.SendRemoteComplete(1)
	if !s.CheckSendIndex(idx) {
		t.Fatalf("index %d should become postable once remote_completed advances", idx)
	}
}

func TestApplySendRejectedAfterError(t *testing.T) {
	t.Parallel()

	s := NewState(4)
	s.SetError()

	if _, ok := s.ApplySend(); ok {
		t.Fatalf("ApplySend should fail once the error bit is set")
	}
}

func TestReadyToRemove(t *testing.T) {
	t.Parallel()

	s := NewState(4)
	idx, _ := s.ApplySend()
	_ = idx
	s.ApplyRecv()

	if s.ReadyToRemove() {
		t.Fatalf("socket should not be reapable before SetError")
	}

	s.SetError()
	if s.ReadyToRemove() {
		t.Fatalf("socket should not be reapable while a send or recv is still outstanding")
	}

	s.SendLocalComplete(1)
	s.RecvComplete()
	if !s.ReadyToRemove() {
		t.Fatalf("socket should be reapable once every outstanding index has drained")
	}
}
