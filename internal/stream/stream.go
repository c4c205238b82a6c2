// Package stream implements the StreamDriver: the piece of the executor
// that splits a list value into an inline prefix (delivered synchronously
// as part of the field's own value) and a scheduled suffix (delivered one
// element at a time as independent patches).
//
// It has no knowledge of GraphQL types, paths, or patches — callers supply
// small closures that know how to complete one element and how to hand a
// scheduled element off to their own dispatcher, so this package stays
// testable against a bare slice or a fake iterator with no other
// dependency in play.
package stream

import "context"

// AsyncIterator is satisfied by any value with a Next method of this
// shape, whatever package declares it — Go interface satisfaction is
// structural, so a resolver's async-iterator value can implement this
// without importing this package.
type AsyncIterator interface {
	Next(ctx context.Context) (value any, done bool, err error)
}

// Closer is an optional capability an AsyncIterator can implement to
// receive a best-effort cancellation signal when Drive's ctx is cancelled
// before the source is drained.
type Closer interface {
	Close() error
}

// Source is the value returned by a streamed field's resolver, normalized
// to one of two shapes: an already-materialized ordered sequence, or a
// lazily-pulled async iterator.
type Source struct {
	Items    []any
	Iterator AsyncIterator
}

// Callbacks lets the caller plug GraphQL-specific behavior into Drive.
type Callbacks struct {
	// CompleteInline completes one element destined for the field's own
	// inline value (indices [0, initialCount)). Returning a non-nil error
	// aborts the whole list: the field itself becomes null.
	CompleteInline func(ctx context.Context, index int, item any) (any, error)

	// Schedule is invoked once per element beyond the inline prefix. It is
	// responsible for scheduling its own independent unit of work (e.g. on
	// a dispatcher) — Drive does not wait for it. drawErr is non-nil only
	// when item comes from an AsyncIterator whose Next call itself failed;
	// item is nil in that case and the callback should produce an errored
	// patch rather than attempt to complete a value.
	Schedule func(index int, item any, drawErr error)

	// Closing, if set, is invoked exactly once after an AsyncIterator
	// source is fully drained (Next reported done with no error). Never
	// invoked for ordered-sequence sources, which have no notion of
	// draining.
	Closing func()

	// Done, if set, is invoked exactly once when the background pull loop
	// over an AsyncIterator source exits, for any reason — normal
	// drain, a failed Next, or ctx cancellation — and always after
	// whatever terminal Schedule/Closing call that exit triggered. Never
	// invoked for ordered-sequence sources, which have no background loop.
	Done func()
}

// Drive materializes the first initialCount elements of src inline and
// hands the remainder to cb.Schedule, one at a time. It returns the inline
// prefix (possibly shorter than initialCount if the source has fewer
// elements) or an error if inline completion failed.
func Drive(ctx context.Context, src Source, initialCount int, cb Callbacks) ([]any, error) {
	if initialCount < 0 {
		initialCount = 0
	}
	if src.Iterator != nil {
		return driveIterator(ctx, src.Iterator, initialCount, cb)
	}
	return driveSequence(ctx, src.Items, initialCount, cb)
}

func driveSequence(ctx context.Context, items []any, initialCount int, cb Callbacks) ([]any, error) {
	n := len(items)
	if initialCount > n {
		initialCount = n
	}
	inline := make([]any, initialCount)
	for i := 0; i < initialCount; i++ {
		v, err := cb.CompleteInline(ctx, i, items[i])
		if err != nil {
			return nil, err
		}
		inline[i] = v
	}
	for i := initialCount; i < n; i++ {
		cb.Schedule(i, items[i], nil)
	}
	return inline, nil
}

func driveIterator(ctx context.Context, it AsyncIterator, initialCount int, cb Callbacks) ([]any, error) {
	inline := make([]any, 0, initialCount)
	for i := 0; i < initialCount; i++ {
		v, done, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		cv, err := cb.CompleteInline(ctx, i, v)
		if err != nil {
			return nil, err
		}
		inline = append(inline, cv)
	}

	go func() {
		if cb.Done != nil {
			defer cb.Done()
		}
		idx := len(inline)
		for {
			select {
			case <-ctx.Done():
				if closer, ok := it.(Closer); ok {
					closer.Close()
				}
				return
			default:
			}
			v, done, err := it.Next(ctx)
			if err != nil {
				cb.Schedule(idx, nil, err)
				return
			}
			if done {
				if cb.Closing != nil {
					cb.Closing()
				}
				return
			}
			cb.Schedule(idx, v, nil)
			idx++
		}
	}()

	return inline, nil
}
