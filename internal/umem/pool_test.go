package umem

import (
	"math/rand"
	"testing"
)

func TestFramePoolInitialState(t *testing.T) {
	p := NewFramePool(8, 2048)
	if got := p.FreeCount(); got != 8 {
		t.Fatalf("FreeCount() = %d, want 8", got)
	}
	seen := map[uint64]bool{}
	for i := 0; i < 8; i++ {
		addr, ok := p.Alloc()
		if !ok {
			t.Fatalf("Alloc() returned !ok before pool empty, i=%d", i)
		}
		if addr%2048 != 0 {
			t.Fatalf("addr %d is not frame-size aligned", addr)
		}
		if seen[addr] {
			t.Fatalf("addr %d allocated twice", addr)
		}
		seen[addr] = true
	}
	if _, ok := p.Alloc(); ok {
		t.Fatalf("Alloc() on empty pool returned ok=true")
	}
}

// TestFramePoolConservation drives a random sequence of Alloc/Free
// calls and checks that free_count always equals the initial
// capacity minus the number of addresses currently held outside the
// pool — i.e. no address is fabricated or lost.
func TestFramePoolConservation(t *testing.T) {
	const capacity = 64
	p := NewFramePool(capacity, 2048)

	held := map[uint64]bool{}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10000; i++ {
		if len(held) == 0 || rng.Intn(2) == 0 {
			addr, ok := p.Alloc()
			if !ok {
				if p.FreeCount() != 0 {
					t.Fatalf("Alloc() failed but FreeCount()=%d", p.FreeCount())
				}
				continue
			}
			if held[addr] {
				t.Fatalf("address %#x allocated while already held", addr)
			}
			held[addr] = true
		} else {
			var addr uint64
			for a := range held {
				addr = a
				break
			}
			delete(held, addr)
			p.Free(addr, capacity)
		}

		if got, want := p.FreeCount(), uint32(capacity-len(held)); got != want {
			t.Fatalf("FreeCount() = %d, want %d (held=%d)", got, want, len(held))
		}
	}
}

func TestFramePoolOverflowPanics(t *testing.T) {
	p := NewFramePool(2, 2048)
	defer func() {
		if recover() == nil {
			t.Fatalf("Free() on full pool did not panic")
		}
	}()
	p.Free(4096, 2) // pool already holds 2/2 frames
}
