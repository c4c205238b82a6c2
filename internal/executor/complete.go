package executor

import (
	"context"
	"fmt"
	"reflect"

	language "github.com/hanpama/protograph/internal/language"
	schema "github.com/hanpama/protograph/internal/schema"
	streampkg "github.com/hanpama/protograph/internal/stream"
)

// completeValue implements the ValueCompletor (spec §4.3). It returns the
// response-shaped value and, when true, signals that a Non-Null violation
// occurred here that must bubble to the nearest nullable ancestor (the
// caller is responsible for discarding its own partial value and
// propagating bubble=true further up). A nullable position is that
// ancestor: completeValue stops the bubble there, returning null with
// bubble=false.
func (ec *executionContext) completeValue(ctx context.Context, fieldType *schema.TypeRef, nodes []*language.Field, path *Path, result any, sink *ErrorSink) (any, bool) {
	if schema.IsNonNull(fieldType) {
		inner := schema.Unwrap(fieldType)
		value, bubble := ec.completeNullableValue(ctx, inner, nodes, path, result, sink)
		if bubble {
			return nil, true
		}
		if value == nil {
			if !sink.HasPath(path.Segments()) {
				sink.Add(newLocatedError(fmt.Sprintf("Cannot return null for non-nullable field %s.", fieldDisplayName(nodes)), nodes, path))
			}
			return nil, true
		}
		return value, false
	}

	value, bubble := ec.completeNullableValue(ctx, fieldType, nodes, path, result, sink)
	if bubble {
		return nil, false
	}
	return value, false
}

// completeNullableValue completes a value whose type is not Non-Null,
// reporting a bubble from a Non-Null violation below it unchanged.
func (ec *executionContext) completeNullableValue(ctx context.Context, fieldType *schema.TypeRef, nodes []*language.Field, path *Path, result any, sink *ErrorSink) (any, bool) {
	awaited, err := ec.awaitIfFuture(ctx, result)
	if err != nil {
		sink.Add(wrapError(err, nodes, path))
		return nil, false
	}
	if isNil(awaited) {
		return nil, false
	}

	if schema.IsList(fieldType) {
		return ec.completeListValue(ctx, fieldType, nodes, path, awaited, sink)
	}

	namedType := schema.GetNamedType(fieldType)
	typeObj := ec.schema.Types[namedType]
	if typeObj == nil {
		sink.Add(newLocatedError(fmt.Sprintf("Unknown type %q for field %s.", namedType, fieldDisplayName(nodes)), nodes, path))
		return nil, false
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := ec.serializeLeaf(ctx, typeObj.Name, awaited)
		if err != nil {
			sink.Add(wrapError(err, nodes, path))
			return nil, false
		}
		return serialized, false
	case schema.TypeKindObject:
		return ec.completeObjectValue(ctx, typeObj, nodes, path, awaited, sink)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return ec.completeAbstractValue(ctx, typeObj, nodes, path, awaited, sink)
	default:
		sink.Add(newLocatedError(fmt.Sprintf("cannot complete value of kind %s", typeObj.Kind), nodes, path))
		return nil, false
	}
}

func (ec *executionContext) serializeLeaf(ctx context.Context, typeName string, value any) (any, error) {
	if ec.leafSerializer != nil {
		return ec.leafSerializer(ctx, typeName, value)
	}
	return DefaultLeafSerializer(ctx, typeName, value)
}

func (ec *executionContext) resolveAbstractType(ctx context.Context, abstractTypeName string, value any) (string, error) {
	resolver := ec.typeResolver
	if resolver == nil {
		resolver = DefaultTypeResolver
	}
	raw, err := resolver(ctx, abstractTypeName, value)
	if err != nil {
		return "", err
	}
	awaited, err := ec.awaitIfFuture(ctx, raw)
	if err != nil {
		return "", err
	}
	name, ok := awaited.(string)
	if !ok {
		return "", fmt.Errorf("type resolver for abstract type %q returned non-string %T", abstractTypeName, awaited)
	}
	return name, nil
}

// completeListValue completes an ordinary (non-streamed) list value: every
// element is completed concurrently, each against its own path index, and
// a Non-Null violation on any element nulls the whole list (bubble=true),
// matching the nested-Non-Null propagation rule for List(NonNull(T)).
func (ec *executionContext) completeListValue(ctx context.Context, listType *schema.TypeRef, nodes []*language.Field, path *Path, result any, sink *ErrorSink) (any, bool) {
	itemType := schema.Unwrap(listType)
	items, err := toItemSlice(ctx, result)
	if err != nil {
		sink.Add(wrapError(err, nodes, path))
		return nil, false
	}

	completed := make([]any, len(items))
	bubbled := make([]bool, len(items))
	runListItems(len(items), func(i int) {
		v, b := ec.completeValue(ctx, itemType, nodes, path.Index(i), items[i], sink)
		completed[i] = v
		bubbled[i] = b
	})
	for _, b := range bubbled {
		if b {
			return nil, true
		}
	}
	return completed, false
}

func runListItems(n int, f func(i int)) {
	if n == 0 {
		return
	}
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			f(i)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

// toItemSlice normalizes a list field's resolved value into a []any,
// draining an AsyncIterator to completion when one is returned for a field
// that has no active @stream.
func toItemSlice(ctx context.Context, result any) ([]any, error) {
	if items, ok := result.([]any); ok {
		return items, nil
	}
	if it, ok := result.(AsyncIterator); ok {
		var items []any
		for {
			v, done, err := it.Next(ctx)
			if err != nil {
				return nil, err
			}
			if done {
				return items, nil
			}
			items = append(items, v)
		}
	}
	v := reflect.ValueOf(result)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list value, got %T", result)
	}
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, nil
}

func (ec *executionContext) completeObjectValue(ctx context.Context, objType *schema.Type, nodes []*language.Field, path *Path, source any, sink *ErrorSink) (any, bool) {
	sel := mergeSelectionSets(nodes)
	return ec.executeSelectionSet(ctx, objType, source, sel, path, sink, false)
}

func (ec *executionContext) completeAbstractValue(ctx context.Context, abstractType *schema.Type, nodes []*language.Field, path *Path, source any, sink *ErrorSink) (any, bool) {
	typeName, err := ec.resolveAbstractType(ctx, abstractType.Name, source)
	if err != nil {
		sink.Add(wrapError(err, nodes, path))
		return nil, false
	}
	objType := ec.schema.Types[typeName]
	if objType == nil || objType.Kind != schema.TypeKindObject {
		sink.Add(newLocatedError(fmt.Sprintf("Abstract type %q must resolve to an Object type at runtime for field %s. Received %q.", abstractType.Name, fieldDisplayName(nodes), typeName), nodes, path))
		return nil, false
	}
	return ec.completeObjectValue(ctx, objType, nodes, path, source, sink)
}

// isNil reports whether v is untyped nil or a typed nil (nil pointer,
// interface, slice, map, func, or chan) the way a resolver commonly spells
// "no value" in Go.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// driveStreamField implements the field-level half of the StreamDriver
// contract (spec §4.4): it awaits the field's own resolved value, then
// hands it to internal/stream.Drive, wiring the inline elements back
// through completeValue and scheduling the rest as independent patches on
// the dispatcher.
func (ec *executionContext) driveStreamField(ctx context.Context, fieldDef *schema.Field, nodes []*language.Field, path *Path, raw any, sd *StreamDirective, sink *ErrorSink) (any, bool) {
	awaited, err := ec.awaitIfFuture(ctx, raw)
	if err != nil {
		sink.Add(wrapError(err, nodes, path))
		if schema.IsNonNull(fieldDef.Type) {
			return nil, true
		}
		return nil, false
	}
	if isNil(awaited) {
		return ec.completeValue(ctx, fieldDef.Type, nodes, path, awaited, sink)
	}

	itemType := streamItemType(fieldDef.Type)
	var src streampkg.Source
	isIterator := false
	if it, ok := awaited.(AsyncIterator); ok {
		isIterator = true
		src = streampkg.Source{Iterator: streamIteratorAdapter{it}}
	} else {
		items, err := toItemSlice(ctx, awaited)
		if err != nil {
			sink.Add(wrapError(err, nodes, path))
			return nil, false
		}
		src = streampkg.Source{Items: items}
	}

	cb := streampkg.Callbacks{
		CompleteInline: func(ctx context.Context, i int, item any) (any, error) {
			v, bubble := ec.completeValue(ctx, itemType, nodes, path.Index(i), item, sink)
			if bubble {
				return nil, errStreamItemNonNull
			}
			return v, nil
		},
		Schedule: func(i int, item any, drawErr error) {
			ec.scheduleStreamItem(ctx, nodes, path, itemType, sd.Label, i, item, drawErr)
		},
		Closing: func() {
			ec.scheduleStreamClosing(sd.Label)
		},
	}
	if isIterator {
		// The pull loop draws items one at a time, with arbitrary latency
		// between draws, so it must hold its own slot on the dispatcher for
		// its whole lifetime — otherwise a fast-completing item can bring
		// outstanding to zero and close the dispatcher's channel while the
		// loop is still about to draw (and schedule) another one.
		ec.dispatcher.Reserve()
		cb.Done = ec.dispatcher.ReleaseReserved
	}

	inline, derr := streampkg.Drive(ctx, src, sd.InitialCount, cb)
	if derr != nil {
		if isIterator {
			// Drive fails only before its pull loop starts, so cb.Done
			// never runs to release the slot reserved above.
			ec.dispatcher.ReleaseReserved()
		}
		if derr != errStreamItemNonNull {
			sink.Add(newLocatedError(derr.Error(), nodes, path))
		}
		if schema.IsNonNull(fieldDef.Type) {
			return nil, true
		}
		return nil, false
	}
	return inline, false
}

var errStreamItemNonNull = fmt.Errorf("stream item failed its non-null constraint")

func streamItemType(fieldType *schema.TypeRef) *schema.TypeRef {
	t := fieldType
	if schema.IsNonNull(t) {
		t = schema.Unwrap(t)
	}
	return schema.Unwrap(t)
}

// streamIteratorAdapter satisfies internal/stream.AsyncIterator (and its
// optional Closer) in terms of executor.AsyncIterator/Closer, which share
// the same method shapes by construction.
type streamIteratorAdapter struct{ AsyncIterator }

func (a streamIteratorAdapter) Close() error {
	if c, ok := a.AsyncIterator.(Closer); ok {
		return c.Close()
	}
	return nil
}
