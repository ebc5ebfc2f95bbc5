package ringbuf

import "testing"

func TestPush_EvictsOldestWhenFull(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	if b.Len() != 3 {
		t.Fatalf("expected len 3, got %d", b.Len())
	}
	got := b.Slice()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestNewest_OrderAndLimit(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c"} {
		b.Push(s)
	}
	got := b.Newest(2)
	if len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Errorf("expected [c b], got %v", got)
	}
	if all := b.Newest(0); len(all) != 3 {
		t.Errorf("expected all 3 elements, got %d", len(all))
	}
}

func TestLast_Empty(t *testing.T) {
	b := New[float64](2)
	if _, ok := b.Last(); ok {
		t.Error("expected no last element on empty buffer")
	}
	b.Push(1.5)
	b.Push(2.5)
	b.Push(3.5)
	if v, ok := b.Last(); !ok || v != 3.5 {
		t.Errorf("expected last 3.5, got %v (%v)", v, ok)
	}
}

func TestNew_MinimumCapacity(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Errorf("expected capacity 1, got %d", b.Cap())
	}
}

func TestReset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after reset, got %d", b.Len())
	}
	b.Push(7)
	if b.At(0) != 7 {
		t.Errorf("expected 7 after reset push, got %d", b.At(0))
	}
}
