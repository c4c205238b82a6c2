package executor

import (
	"context"
	"time"

	events "github.com/hanpama/protograph/internal/events"
	eventbus "github.com/hanpama/protograph/internal/eventbus"
	language "github.com/hanpama/protograph/internal/language"
	schema "github.com/hanpama/protograph/internal/schema"
)

// scheduleDeferredGroup implements the Dispatcher-facing half of @defer
// (spec §4.1/§4.4): it schedules the fragment's selection set as one
// independent unit of work, anchored at the path of the fragment spread
// itself, with its own fresh error sink.
func (ec *executionContext) scheduleDeferredGroup(dg *DeferredGroup) {
	ec.publishScheduled(dg.Label, dg.Path, "defer")
	startedAt := time.Now()
	ec.dispatcher.Schedule(func() *Patch {
		sink := NewErrorSink()
		value, bubble := ec.executeSelectionSet(ec.ctx, dg.ParentType, dg.Source, dg.SelectionSet, dg.Path, sink, false)
		if bubble {
			value = nil
		}
		errs := sink.List()
		ec.publishEmitted(dg.Label, dg.Path, len(errs) > 0, startedAt)
		return &Patch{Data: value, Path: dg.Path.Segments(), Label: dg.Label, Errors: errs}
	})
}

// scheduleStreamItem schedules one streamed list element as its own patch
// (spec §4.4). drawErr, when non-nil, means the underlying async iterator
// failed to produce this element at all; the patch carries that failure as
// a located error instead of attempting to complete a value.
func (ec *executionContext) scheduleStreamItem(ctx context.Context, nodes []*language.Field, listPath *Path, itemType *schema.TypeRef, label *string, index int, item any, drawErr error) {
	itemPath := listPath.Index(index)
	ec.publishScheduled(label, itemPath, "stream")
	startedAt := time.Now()
	ec.dispatcher.Schedule(func() *Patch {
		sink := NewErrorSink()
		var data any
		if drawErr != nil {
			sink.Add(newLocatedError(drawErr.Error(), nodes, itemPath))
		} else {
			v, bubble := ec.completeValue(ctx, itemType, nodes, itemPath, item, sink)
			if !bubble {
				data = v
			}
		}
		errs := sink.List()
		ec.publishEmitted(label, itemPath, len(errs) > 0, startedAt)
		return &Patch{Data: data, Path: itemPath.Segments(), Label: label, Errors: errs}
	})
}

// scheduleStreamClosing schedules the mandatory closing patch that marks
// an async-iterator stream source as fully drained (spec §4.4/§4.5): a
// patch with no data/path keys of its own, carrying hasNext as decided by
// the dispatcher like any other scheduled unit.
func (ec *executionContext) scheduleStreamClosing(label *string) {
	ec.dispatcher.Schedule(func() *Patch {
		return &Patch{Label: label, closing: true}
	})
}

func (ec *executionContext) publishScheduled(label *string, path *Path, kind string) {
	eventbus.Publish(ec.ctx, events.PatchScheduled{Label: label, Path: path.Segments(), Kind: kind})
}

func (ec *executionContext) publishEmitted(label *string, path *Path, errored bool, startedAt time.Time) {
	eventbus.Publish(ec.ctx, events.PatchEmitted{Label: label, Path: path.Segments(), Errored: errored, Duration: time.Since(startedAt)})
}
