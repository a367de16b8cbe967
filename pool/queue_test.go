package pool

import (
	"testing"
	"time"
)

type fakeRequest struct {
	id        uint64
	required  *LoopID
	preferred LoopID
	deadline  time.Time
}

func (r *fakeRequest) ID() uint64                    { return r.id }
func (r *fakeRequest) RequiredLoop() *LoopID         { return r.required }
func (r *fakeRequest) PreferredLoop() LoopID         { return r.preferred }
func (r *fakeRequest) ConnectionDeadline() time.Time { return r.deadline }
func (r *fakeRequest) WasQueued(p *Pool)             {}
func (r *fakeRequest) Fail(err error)                {}

func TestRequestQueueFIFOOrder(t *testing.T) {
	q := newRequestQueue()
	w1 := newWaiter(&fakeRequest{id: 1})
	w2 := newWaiter(&fakeRequest{id: 2})
	q.push(w1)
	q.push(w2)

	got := q.popFirst(nil)
	if got.id != 1 {
		t.Fatalf("expected waiter 1 first, got %d", got.id)
	}
	got = q.popFirst(nil)
	if got.id != 2 {
		t.Fatalf("expected waiter 2 second, got %d", got.id)
	}
	if q.popFirst(nil) != nil {
		t.Fatalf("expected empty queue")
	}
}

func TestRequestQueueByLoopIsolated(t *testing.T) {
	loop := LoopID(3)
	q := newRequestQueue()
	q.push(newWaiter(&fakeRequest{id: 1}))
	q.push(newWaiter(&fakeRequest{id: 2, required: &loop}))

	if q.generalPurposeCount() != 1 {
		t.Fatalf("expected 1 general waiter, got %d", q.generalPurposeCount())
	}
	if q.count(loop) != 2 {
		t.Fatalf("expected count(loop)=2 (general + bound), got %d", q.count(loop))
	}

	if w := q.popFirst(nil); w == nil || w.id != 1 {
		t.Fatalf("expected general waiter 1, got %v", w)
	}
	if w := q.popFirst(&loop); w == nil || w.id != 2 {
		t.Fatalf("expected bound waiter 2, got %v", w)
	}
}

func TestRequestQueueRemoveByID(t *testing.T) {
	loop := LoopID(1)
	q := newRequestQueue()
	w := newWaiter(&fakeRequest{id: 7, required: &loop})
	q.push(w)

	removed := q.remove(makeWaiterID(7, &loop))
	if removed == nil || removed.id != 7 {
		t.Fatalf("expected to remove waiter 7, got %v", removed)
	}
	if q.count(loop) != 0 {
		t.Fatalf("expected loop queue empty after remove, got count=%d", q.count(loop))
	}
	if again := q.remove(makeWaiterID(7, &loop)); again != nil {
		t.Fatalf("expected second remove to be a no-op, got %v", again)
	}
}

func TestRequestQueueRemoveMatchesEqualLoopsAcrossPointers(t *testing.T) {
	// Two distinct *LoopID values holding the same logical loop must
	// still compare equal as waiterIDs (the bug this flattened struct
	// fixes).
	loopA := LoopID(5)
	loopB := LoopID(5)
	q := newRequestQueue()
	q.push(newWaiter(&fakeRequest{id: 9, required: &loopA}))

	removed := q.remove(makeWaiterID(9, &loopB))
	if removed == nil {
		t.Fatalf("expected waiterID equality across distinct *LoopID pointers with equal value")
	}
}

func TestRequestQueueRemoveAllDrainsBoth(t *testing.T) {
	loop := LoopID(2)
	q := newRequestQueue()
	q.push(newWaiter(&fakeRequest{id: 1}))
	q.push(newWaiter(&fakeRequest{id: 2, required: &loop}))

	all := q.removeAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 waiters drained, got %d", len(all))
	}
	if q.generalPurposeCount() != 0 || q.count(loop) != 0 {
		t.Fatalf("expected queues empty after removeAll")
	}
}
