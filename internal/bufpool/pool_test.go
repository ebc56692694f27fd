package bufpool

import "testing"

func TestPoolExhaustionAndRelease(t *testing.T) {
	t.Parallel()

	p, err := New(Config{BlockSize: 64, BlockCount: 4}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	slices := make([]*Slice, 0, 4)
	for i := 0; i < 4; i++ {
		s, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		slices = append(slices, s)
	}

	if _, err := p.Allocate(); err == nil {
		t.Fatalf("expected 5th allocation to fail")
	}

	slices[0].Bytes()[0] = 0x42
	slices[0].Release()

	s, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if s.Bytes()[0] != 0x42 {
		t.Fatalf("expected reused block to retain prior contents, got %x", s.Bytes()[0])
	}
}

func TestSliceDoubleReleaseIsSafe(t *testing.T) {
	t.Parallel()

	p, err := New(Config{BlockSize: 64, BlockCount: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s.Release()
	s.Release()

	if _, err := p.Allocate(); err != nil {
		t.Fatalf("Allocate after double release: %v", err)
	}
	if _, err := p.Allocate(); err == nil {
		t.Fatalf("expected pool to still report only 1 block")
	}
}
