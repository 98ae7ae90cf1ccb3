package sync

import (
	"sync"
	"testing"
)

func TestTracker_IncDec(t *testing.T) {
	tr := NewTracker()
	if !tr.Idle() {
		t.Fatal("new tracker should be idle")
	}
	tr.Inc(1)
	tr.Inc(1)
	tr.Inc(2)
	if tr.Count(1) != 2 || tr.Count(2) != 1 || tr.Idle() {
		t.Fatalf("counts = %v", tr.Snapshot())
	}
	if n, err := tr.Dec(1); err != nil || n != 1 {
		t.Errorf("Dec(1) = %d, %v; want 1, nil", n, err)
	}
	tr.Dec(1)
	tr.Dec(2)
	if !tr.Idle() {
		t.Errorf("tracker not idle: %v", tr.Snapshot())
	}
	snap := tr.Snapshot()
	if v, ok := snap[1]; !ok || v != 0 {
		t.Errorf("snapshot keeps zero entries, got %v", snap)
	}
}

func TestTracker_Underflow(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.Dec(9); err == nil {
		t.Fatal("Dec on empty account should fail")
	}
	if tr.Count(9) != 0 || !tr.Idle() {
		t.Errorf("underflow changed state: %v", tr.Snapshot())
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Inc(3)
			tr.Dec(3)
		}()
	}
	wg.Wait()
	if !tr.Idle() || tr.Count(3) != 0 {
		t.Errorf("tracker not balanced: %v", tr.Snapshot())
	}
}
