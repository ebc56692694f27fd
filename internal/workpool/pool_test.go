package workpool

import "testing"

func TestPoolAllocateExhaustionAndRelease(t *testing.T) {
	t.Parallel()

	p, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var held []*Descriptor
	for i := 0; i < 4; i++ {
		d, err := p.Allocate(KindSend)
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		held = append(held, d)
	}

	if _, err := p.Allocate(KindSend); err == nil {
		t.Fatalf("expected pool exhaustion")
	}

	held[0].Release()
	if p.Available() != 1 {
		t.Fatalf("expected 1 free slot after release, got %d", p.Available())
	}

	d, err := p.Allocate(KindRecv)
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if d.Kind != KindRecv {
		t.Fatalf("expected reused slot kind KindRecv, got %v", d.Kind)
	}
}

func TestWRIDRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d, err := p.Allocate(KindSend)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	wrID := d.WRID()
	tag, payload := Decode(wrID)
	if tag != WRBox {
		t.Fatalf("expected WRBox, got %v", tag)
	}
	got := p.Lookup(uintptr(payload))
	if got != d {
		t.Fatalf("Lookup did not recover the same descriptor")
	}
}

func TestWRIDImmAndEmpty(t *testing.T) {
	t.Parallel()

	tag, payload := Decode(EncodeEmpty())
	if tag != WREmpty {
		t.Fatalf("expected WREmpty, got %v", tag)
	}

	tag, payload = Decode(EncodeImm(42))
	if tag != WRImm || payload != 42 {
		t.Fatalf("expected WRImm(42), got %v(%d)", tag, payload)
	}
}
