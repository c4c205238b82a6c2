// Package dispatch implements the outstanding-unit bookkeeping that turns a
// set of independently-completing background units into a single ordered
// sequence with exactly one terminal element.
//
// It knows nothing about GraphQL, patches, or paths: callers supply a
// worker that produces a payload of their own type, and the Dispatcher
// tags each payload with whether more are still outstanding.
package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Elem pairs a produced payload with whether further elements are still
// outstanding at the moment this one was emitted. ID is an internal
// bookkeeping key, distinct from any user-supplied label, unique per
// scheduled unit regardless of what the unit's own path/label happen to be.
type Elem[P any] struct {
	ID      uuid.UUID
	Payload P
	HasNext bool
}

// Dispatcher tracks outstanding scheduled units and emits their results,
// in completion order, on a single channel. The last unit to finish is the
// one whose Elem.HasNext is false — by construction there is exactly one.
type Dispatcher[P any] struct {
	mu          sync.Mutex
	outstanding int
	scheduled   bool // true once Schedule has ever been called
	closed      bool
	out         chan Elem[P]
}

// New creates a Dispatcher with no units scheduled yet.
func New[P any]() *Dispatcher[P] {
	return &Dispatcher[P]{out: make(chan Elem[P])}
}

// Outstanding reports how many scheduled units have not yet produced a
// payload.
func (d *Dispatcher[P]) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding
}

// HasScheduled reports whether Schedule has ever been called, regardless
// of whether every unit has since completed. A caller deciding whether a
// lazy sequence follows an initial result must use this, not Outstanding:
// a unit can finish (and its payload start heading for the channel) before
// the caller gets a chance to check, so "outstanding now" can already read
// zero even though a patch is still guaranteed to arrive.
func (d *Dispatcher[P]) HasScheduled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scheduled
}

// Schedule registers one more outstanding unit and runs worker in its own
// goroutine. worker's return value is delivered on Recv once it completes;
// the decision of whether it is the terminal element is made under the
// lock that tracks the outstanding count, so exactly one decrement — the
// one that brings the count to zero — ever claims HasNext: false, even
// though many units can finish concurrently. The channel send itself
// happens after the lock is released, so a blocked Recv can never
// deadlock against Outstanding or a later Schedule call.
func (d *Dispatcher[P]) Schedule(worker func() P) {
	id := uuid.New()
	d.reserve()

	go func() {
		payload := worker()
		done := d.release()
		elem := Elem[P]{ID: id, Payload: payload, HasNext: !done}
		d.out <- elem
		if done {
			close(d.out)
		}
	}()
}

// Reserve claims one outstanding slot without running a worker or
// producing a payload of its own. Use it when a caller needs to hold the
// dispatcher open across a span of time whose own units aren't scheduled
// yet — e.g. an async-iterator pull loop waiting on its next element —
// so outstanding can never be observed at zero, and the channel closed,
// while that caller is still guaranteed to Schedule more work. Pair every
// Reserve with exactly one ReleaseReserved.
func (d *Dispatcher[P]) Reserve() {
	d.reserve()
}

// ReleaseReserved releases a slot claimed by Reserve. A bare reservation
// carries no payload of its own, so if its release is the one that brings
// outstanding to zero, it closes the output channel directly rather than
// sending a terminal Elem — by that point the caller has either scheduled
// the real terminal unit already (ordinary case) or abandoned the
// sequence outright (context cancellation), so nothing is waiting on one.
func (d *Dispatcher[P]) ReleaseReserved() {
	if d.release() {
		close(d.out)
	}
}

func (d *Dispatcher[P]) reserve() {
	d.mu.Lock()
	d.outstanding++
	d.scheduled = true
	d.mu.Unlock()
}

func (d *Dispatcher[P]) release() (done bool) {
	d.mu.Lock()
	d.outstanding--
	done = d.outstanding == 0 && !d.closed
	if done {
		d.closed = true
	}
	d.mu.Unlock()
	return done
}

// Recv blocks until the next payload is available, or ctx is done. The
// second return value is false once the dispatcher has emitted its
// terminal element (or ctx expired) and no further values will arrive.
func (d *Dispatcher[P]) Recv(ctx context.Context) (Elem[P], bool) {
	select {
	case e, ok := <-d.out:
		return e, ok
	case <-ctx.Done():
		return Elem[P]{}, false
	}
}
