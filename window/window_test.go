package window

import (
	"sync"
	"testing"
)

func TestInitialState(t *testing.T) {
	w := New(100)
	if w.Base() != 0 {
		t.Fatalf("Base() = %d, want 0", w.Base())
	}
	if w.Size() != Init {
		t.Fatalf("Size() = %d, want %d", w.Size(), Init)
	}
	if w.IsComplete() {
		t.Fatalf("IsComplete() = true on fresh window")
	}
}

func TestMarkAckedAndSlide(t *testing.T) {
	w := New(5)
	w.MarkAcked(0)
	w.MarkAcked(1)
	// gap at 2: slide must stop there.
	w.MarkAcked(3)

	slid := w.Slide()
	if slid != 2 {
		t.Fatalf("Slide() = %d, want 2", slid)
	}
	if w.Base() != 2 {
		t.Fatalf("Base() = %d, want 2", w.Base())
	}

	w.MarkAcked(2)
	slid = w.Slide()
	if slid != 2 { // frames 2 and 3 now contiguous
		t.Fatalf("Slide() = %d, want 2", slid)
	}
	if w.Base() != 4 {
		t.Fatalf("Base() = %d, want 4", w.Base())
	}

	w.MarkAcked(4)
	w.Slide()
	if !w.IsComplete() {
		t.Fatalf("IsComplete() = false after sliding past frameCount")
	}
}

func TestFramesToSendExcludesAcked(t *testing.T) {
	w := New(10)
	w.MarkAcked(1)
	w.MarkAcked(3)
	frames := w.FramesToSend()
	want := []int32{0, 2, 4, 5, 6, 7, 8, 9}
	if len(frames) != len(want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}
	for i, f := range frames {
		if f != want[i] {
			t.Fatalf("frames[%d] = %d, want %d", i, f, want[i])
		}
	}
}

func TestFramesToSendBoundedByFrameCount(t *testing.T) {
	w := New(3)
	frames := w.FramesToSend()
	if len(frames) != 3 {
		t.Fatalf("frames = %v, want 3 entries", frames)
	}
}

func TestAdjustGrowsOnThreeSuccesses(t *testing.T) {
	w := New(1000)
	w.Adjust(true, 50)
	w.Adjust(true, 50)
	if w.Size() != Init {
		t.Fatalf("Size() = %d, want unchanged at %d before third success", w.Size(), Init)
	}
	w.Adjust(true, 50)
	if w.Size() != Init*2 {
		t.Fatalf("Size() = %d, want %d after three successes", w.Size(), Init*2)
	}
}

func TestAdjustCapsAtMax(t *testing.T) {
	w := New(1000)
	for i := 0; i < 20; i++ {
		w.Adjust(true, 50)
	}
	if w.Size() != Max {
		t.Fatalf("Size() = %d, want capped at %d", w.Size(), Max)
	}
}

func TestAdjustHighRTTHalves(t *testing.T) {
	w := New(1000)
	w.Adjust(true, 2500)
	if w.Size() != Init/2 {
		t.Fatalf("Size() = %d, want %d after high-RTT success", w.Size(), Init/2)
	}
}

func TestAdjustShrinksOnThreeFailures(t *testing.T) {
	w := New(1000)
	w.Adjust(false, 0)
	w.Adjust(false, 0)
	if w.Size() != Init {
		t.Fatalf("Size() = %d, want unchanged before third failure", w.Size())
	}
	w.Adjust(false, 0)
	if w.Size() != Init/2 {
		t.Fatalf("Size() = %d, want %d after three failures", w.Size(), Init/2)
	}
}

func TestAdjustFloorsAtMin(t *testing.T) {
	w := New(1000)
	for i := 0; i < 20; i++ {
		w.Adjust(false, 0)
	}
	if w.Size() != Min {
		t.Fatalf("Size() = %d, want floored at %d", w.Size(), Min)
	}
}

func TestConcurrentAccess(t *testing.T) {
	w := New(500)
	var wg sync.WaitGroup
	for i := int32(0); i < 500; i++ {
		wg.Add(1)
		go func(k int32) {
			defer wg.Done()
			w.MarkAcked(k)
			_ = w.IsAcked(k)
			_ = w.InWindow(k)
		}(i)
	}
	wg.Wait()
	w.Slide()
	if !w.IsComplete() {
		t.Fatalf("IsComplete() = false after all frames acked and slid")
	}
}
