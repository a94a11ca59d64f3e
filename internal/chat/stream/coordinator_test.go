package stream

import (
	"sync"
	"testing"
	"time"
)

// recordingSink captures applied content in order.
type recordingSink struct {
	mu      sync.Mutex
	applied []string
}

func (r *recordingSink) ApplyContent(messageID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, content)
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.applied))
	copy(out, r.applied)
	return out
}

func (r *recordingSink) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.applied) == 0 {
		return ""
	}
	return r.applied[len(r.applied)-1]
}

func TestScheduleAppliesNewestValue(t *testing.T) {
	c := NewCoordinator(WithInterval(10 * time.Millisecond))
	sink := &recordingSink{}

	c.Schedule("m1", "He", sink)
	c.Schedule("m1", "Hel", sink)
	c.Schedule("m1", "Hello", sink)

	time.Sleep(50 * time.Millisecond)

	applied := sink.snapshot()
	if len(applied) == 0 {
		t.Fatal("nothing applied")
	}
	if got := applied[len(applied)-1]; got != "Hello" {
		t.Errorf("final applied content = %q, want %q", got, "Hello")
	}
}

func TestScheduleDiscardsStaleUpdates(t *testing.T) {
	c := NewCoordinator(WithInterval(20 * time.Millisecond))
	sink := &recordingSink{}

	// Rapid-fire updates inside one debounce window: only the last survives.
	for _, v := range []string{"a", "ab", "abc", "abcd"} {
		c.Schedule("m1", v, sink)
	}

	time.Sleep(60 * time.Millisecond)

	applied := sink.snapshot()
	if len(applied) != 1 {
		t.Fatalf("applied %v, want exactly the newest update", applied)
	}
	if applied[0] != "abcd" {
		t.Errorf("applied %q, want %q", applied[0], "abcd")
	}
}

func TestFinalizeWinsOverPending(t *testing.T) {
	c := NewCoordinator(WithInterval(50 * time.Millisecond))
	sink := &recordingSink{}

	c.Schedule("m1", "partial", sink)
	c.Finalize("m1", "Hello!", sink)

	// The pending debounced apply is cancelled; finalize applies at once.
	if got := sink.last(); got != "Hello!" {
		t.Fatalf("after finalize, content = %q, want %q", got, "Hello!")
	}

	time.Sleep(80 * time.Millisecond)
	if got := sink.last(); got != "Hello!" {
		t.Errorf("stale debounced update landed after finalize: %q", got)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	c := NewCoordinator()
	sink := &recordingSink{}

	c.Finalize("m1", "done", sink)
	c.Finalize("m1", "done", sink)

	if applied := sink.snapshot(); len(applied) != 1 {
		t.Errorf("terminal content applied %d times, want 1", len(applied))
	}
}

func TestScheduleAfterFinalizeIsDropped(t *testing.T) {
	c := NewCoordinator(WithInterval(5 * time.Millisecond))
	sink := &recordingSink{}

	c.Finalize("m1", "final", sink)
	c.Schedule("m1", "late partial", sink)

	time.Sleep(30 * time.Millisecond)

	if got := sink.last(); got != "final" {
		t.Errorf("late partial applied after finalize: %q", got)
	}
}

func TestImmediateApplyPath(t *testing.T) {
	c := NewCoordinator(WithInterval(0))
	sink := &recordingSink{}

	c.Schedule("m1", "a", sink)
	c.Schedule("m1", "ab", sink)

	applied := sink.snapshot()
	if len(applied) != 2 || applied[0] != "a" || applied[1] != "ab" {
		t.Errorf("immediate mode applied %v, want every update synchronously", applied)
	}

	c.Finalize("m1", "abc", sink)
	if got := sink.last(); got != "abc" {
		t.Errorf("finalize in immediate mode = %q", got)
	}
}

func TestMessagesAreIndependent(t *testing.T) {
	c := NewCoordinator(WithInterval(5 * time.Millisecond))
	a := &recordingSink{}
	b := &recordingSink{}

	c.Schedule("m1", "one", a)
	c.Schedule("m2", "two", b)
	c.Finalize("m2", "two!", b)

	time.Sleep(30 * time.Millisecond)

	if got := a.last(); got != "one" {
		t.Errorf("m1 content = %q, want %q", got, "one")
	}
	if got := b.last(); got != "two!" {
		t.Errorf("m2 content = %q, want %q", got, "two!")
	}
}

func TestReleaseForgetsSession(t *testing.T) {
	c := NewCoordinator(WithInterval(0))
	sink := &recordingSink{}

	c.Finalize("m1", "final", sink)
	c.Release("m1")

	// After release the identity may be reused by a new send.
	c.Schedule("m1", "new stream", sink)
	if got := sink.last(); got != "new stream" {
		t.Errorf("after release, schedule applied %q", got)
	}
}
