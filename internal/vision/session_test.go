package vision

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Concurrent inference on one session must be mutually exclusive: the input
// tensor and output tensors are shared buffers, and an overlapping copy+Run
// would mix two photos' pixels.
func TestSessionGuardSerializesInference(t *testing.T) {
	var guard sessionGuard

	var active int32
	var overlaps int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = guard.infer(func() error {
					if atomic.AddInt32(&active, 1) > 1 {
						atomic.AddInt32(&overlaps, 1)
					}
					time.Sleep(100 * time.Microsecond)
					atomic.AddInt32(&active, -1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&overlaps); n > 0 {
		t.Fatalf("observed %d overlapping inference windows, want 0", n)
	}
}

func TestSessionGuardReturnsError(t *testing.T) {
	var guard sessionGuard

	want := errors.New("run failed")
	if err := guard.infer(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("infer error = %v, want %v", err, want)
	}

	// An error must release the guard for the next caller.
	done := make(chan struct{})
	go func() {
		_ = guard.infer(func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("guard not released after failed inference")
	}
}
