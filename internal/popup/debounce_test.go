package popup

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerDeliversOnlyFinalValue(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var got atomic.Int64
	var fires atomic.Int64

	for _, v := range []int64{10, 50, 150} {
		v := v
		d.Call(func() {
			got.Store(v)
			fires.Add(1)
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	if n := fires.Load(); n != 1 {
		t.Fatalf("debounced function fired %d times; want 1", n)
	}
	if v := got.Load(); v != 150 {
		t.Fatalf("debounced value = %d; want 150", v)
	}
}

func TestDebouncerEachCallResetsTimer(t *testing.T) {
	d := NewDebouncer(40 * time.Millisecond)
	defer d.Stop()

	var fires atomic.Int64
	start := time.Now()
	var firedAt atomic.Int64

	// Keep poking within the quiet period; nothing should fire until the
	// pokes stop.
	for i := 0; i < 5; i++ {
		d.Call(func() {
			fires.Add(1)
			firedAt.Store(int64(time.Since(start)))
		})
		time.Sleep(15 * time.Millisecond)
	}

	time.Sleep(120 * time.Millisecond)

	if n := fires.Load(); n != 1 {
		t.Fatalf("debounced function fired %d times; want 1", n)
	}
	// Last poke was around 60ms in; the fire must come after its quiet period.
	if elapsed := time.Duration(firedAt.Load()); elapsed < 95*time.Millisecond {
		t.Fatalf("fired %v after start; want at least ~100ms (after final poke + quiet period)", elapsed)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var fires atomic.Int64
	d.Call(func() { fires.Add(1) })
	d.Stop()

	time.Sleep(80 * time.Millisecond)

	if n := fires.Load(); n != 0 {
		t.Fatalf("debounced function fired %d times after Stop; want 0", n)
	}
}
