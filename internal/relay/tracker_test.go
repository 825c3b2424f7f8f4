package relay

import (
	"testing"
	"time"
)

func TestTracker_EndReportsDuration(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	if !tr.Begin("alice") {
		t.Fatal("Begin returned false for new record")
	}
	clock.Advance(90 * time.Second)

	d, ok := tr.End("alice")
	if !ok {
		t.Fatal("End found no call")
	}
	if d != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", d)
	}
	if tr.Len() != 0 {
		t.Fatalf("Len = %d after End, want 0", tr.Len())
	}
}

func TestTracker_EndWithoutCall(t *testing.T) {
	tr := NewTracker(nil)
	if d, ok := tr.End("nobody"); ok || d != 0 {
		t.Fatalf("End = %v, %v, want 0, false", d, ok)
	}
	if tr.Len() != 0 {
		t.Fatal("End created state")
	}
}

func TestTracker_BeginKeepsOriginalStart(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	tr.Begin("alice")
	clock.Advance(10 * time.Second)
	if tr.Begin("alice") {
		t.Fatal("second Begin created a record")
	}
	clock.Advance(5 * time.Second)

	if d, _ := tr.End("alice"); d != 15*time.Second {
		t.Fatalf("duration = %v, want 15s", d)
	}
}

func TestTracker_ForgetIsIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	tr.Begin("alice")

	if !tr.Forget("alice") {
		t.Fatal("first Forget returned false")
	}
	if tr.Forget("alice") {
		t.Fatal("second Forget returned true")
	}
	if _, ok := tr.End("alice"); ok {
		t.Fatal("End after Forget found a call")
	}
}

func TestTracker_ActiveOrdered(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	tr.Begin("carol")
	clock.Advance(time.Second)
	tr.Begin("alice")
	tr.Begin("bob")

	got := tr.Active()
	want := []string{"carol", "alice", "bob"}
	if len(got) != len(want) {
		t.Fatalf("Active len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Identity != id {
			t.Errorf("Active[%d] = %s, want %s", i, got[i].Identity, id)
		}
	}
}
