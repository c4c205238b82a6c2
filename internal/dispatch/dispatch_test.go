package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDispatcherTerminalElementIsUnique(t *testing.T) {
	d := New[int]()
	const n = 20
	var starts sync.WaitGroup
	starts.Add(n)
	for i := 0; i < n; i++ {
		i := i
		d.Schedule(func() int {
			starts.Done()
			time.Sleep(time.Duration(i%5) * time.Millisecond)
			return i
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seen := map[int]bool{}
	terminalCount := 0
	for len(seen) < n {
		elem, ok := d.Recv(ctx)
		if !ok {
			t.Fatalf("Recv returned early after %d elements", len(seen))
		}
		if seen[elem.Payload] {
			t.Fatalf("payload %d delivered twice", elem.Payload)
		}
		seen[elem.Payload] = true
		if !elem.HasNext {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Fatalf("expected exactly one terminal element, got %d", terminalCount)
	}
}

func TestDispatcherReservePreventsEarlyClose(t *testing.T) {
	d := New[int]()
	d.Reserve()

	d.Schedule(func() int {
		time.Sleep(10 * time.Millisecond)
		return 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	elem, ok := d.Recv(ctx)
	if !ok {
		t.Fatal("expected an element")
	}
	// The reservation is still held, so this unit cannot be the terminal
	// one even though it is the only unit scheduled so far.
	if elem.Payload != 1 || !elem.HasNext {
		t.Fatalf("got %+v, want non-terminal element with payload 1", elem)
	}

	d.Schedule(func() int {
		time.Sleep(10 * time.Millisecond)
		return 2
	})
	d.ReleaseReserved()

	seen := map[int]bool{}
	terminalCount := 0
	for len(seen) < 1 {
		elem, ok := d.Recv(ctx)
		if !ok {
			t.Fatalf("Recv returned early after %d elements", len(seen))
		}
		seen[elem.Payload] = true
		if !elem.HasNext {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Fatalf("expected exactly one terminal element, got %d", terminalCount)
	}
}

func TestDispatcherSingleUnit(t *testing.T) {
	d := New[string]()
	d.Schedule(func() string { return "only" })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	elem, ok := d.Recv(ctx)
	if !ok {
		t.Fatal("expected an element")
	}
	if elem.Payload != "only" || elem.HasNext {
		t.Fatalf("got %+v, want terminal element with payload %q", elem, "only")
	}
}
