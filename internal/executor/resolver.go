package executor

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	schema "github.com/hanpama/protograph/internal/schema"
)

// ResolveInfo carries read-only metadata about the field currently being
// resolved, passed to every FieldResolver call.
type ResolveInfo struct {
	FieldName  string
	ParentType *schema.Type
	ReturnType *schema.TypeRef
	Path       *Path
	Variables  map[string]any
}

// FieldResolver resolves one field's value. It may return the value
// directly, or return an Eventual or AsyncIterator for asynchronous or
// streamed resolution — see those types below.
type FieldResolver func(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error)

// TypeResolver determines the concrete object type name for a value of an
// abstract (interface/union) type. May return a string or an Eventual that
// resolves to one.
type TypeResolver func(ctx context.Context, abstractTypeName string, value any) (any, error)

// LeafSerializer serializes a scalar or enum value into a JSON-safe Go
// value. General value coercion for custom scalar/input types is a
// collaborator external to the execution core (spec §1); this is the hook
// callers use to plug it in. DefaultLeafSerializer handles the builtin
// scalars for callers that don't need anything fancier.
type LeafSerializer func(ctx context.Context, typeName string, value any) (any, error)

// Eventual is a value a resolver can return instead of resolving
// synchronously. Await blocks until the value settles.
type Eventual interface {
	Await(ctx context.Context) (any, error)
}

// AsyncIterator is a value a list-field resolver can return to produce
// items lazily, one at a time, instead of an already-materialized slice.
type AsyncIterator interface {
	Next(ctx context.Context) (value any, done bool, err error)
}

// Closer is an optional capability an AsyncIterator can implement to
// receive a best-effort cancellation signal if the execution's context is
// cancelled before its stream drains (spec §4.5).
type Closer interface {
	Close() error
}

type future struct {
	done chan struct{}
	val  any
	err  error
}

// Go runs fn in its own goroutine and returns an Eventual that resolves to
// its result. Resolvers that need to kick off concurrent work can build on
// this instead of hand-rolling a channel each time.
func Go(fn func() (any, error)) Eventual {
	f := &future{done: make(chan struct{})}
	go func() {
		f.val, f.err = fn()
		close(f.done)
	}()
	return f
}

func (f *future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready returns an already-settled Eventual. Useful for resolvers that
// sometimes resolve synchronously and sometimes asynchronously but want a
// uniform return type.
func Ready(val any, err error) Eventual {
	f := &future{done: make(chan struct{}), val: val, err: err}
	close(f.done)
	return f
}

func (ec *executionContext) awaitIfFuture(ctx context.Context, v any) (any, error) {
	for {
		ev, ok := v.(Eventual)
		if !ok {
			return v, nil
		}
		val, err := ev.Await(ctx)
		if err != nil {
			return nil, err
		}
		v = val
	}
}

// DefaultFieldResolver reads FieldName off source: a map key first, then an
// exported Go method (optionally taking a context.Context and/or the
// argument map and optionally returning an error), then an exported struct
// field. It returns nil with no error when source doesn't have the field at
// all, matching typical "optional data" resolver behavior.
func DefaultFieldResolver(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error) {
	if source == nil {
		return nil, nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[info.FieldName], nil
	}

	v := reflect.ValueOf(source)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, nil
	}

	name := exportedName(info.FieldName)
	if m := methodByName(v, name); m.IsValid() {
		return callResolverMethod(m, ctx, args)
	}
	if f := v.FieldByName(name); f.IsValid() {
		return f.Interface(), nil
	}
	return nil, nil
}

func methodByName(v reflect.Value, name string) reflect.Value {
	if m := v.MethodByName(name); m.IsValid() {
		return m
	}
	if v.CanAddr() {
		if m := v.Addr().MethodByName(name); m.IsValid() {
			return m
		}
	}
	return reflect.Value{}
}

func callResolverMethod(m reflect.Value, ctx context.Context, args map[string]any) (any, error) {
	t := m.Type()
	in := make([]reflect.Value, t.NumIn())
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		switch {
		case pt.Implements(ctxType):
			in[i] = reflect.ValueOf(ctx)
		case pt.Kind() == reflect.Map:
			in[i] = reflect.ValueOf(args)
		default:
			in[i] = reflect.Zero(pt)
		}
	}
	out := m.Call(in)
	switch len(out) {
	case 1:
		return out[0].Interface(), nil
	case 2:
		var err error
		if e, ok := out[1].Interface().(error); ok {
			err = e
		}
		return out[0].Interface(), err
	default:
		return nil, nil
	}
}

func exportedName(fieldName string) string {
	if fieldName == "" {
		return fieldName
	}
	return strings.ToUpper(fieldName[:1]) + fieldName[1:]
}

// DefaultTypeResolver resolves an abstract value's concrete type name by
// looking for a string __typename entry (map) or a non-empty Typename
// string field (struct), falling back for structs to the Go type's own
// name. Methods are not consulted; any other value is an error.
func DefaultTypeResolver(ctx context.Context, abstractTypeName string, value any) (any, error) {
	if m, ok := value.(map[string]any); ok {
		if tn, ok := m["__typename"].(string); ok {
			return tn, nil
		}
	}
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("cannot resolve concrete type for nil value of abstract type %q", abstractTypeName)
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if f := v.FieldByName("Typename"); f.IsValid() {
			if s, ok := f.Interface().(string); ok && s != "" {
				return s, nil
			}
		}
		return v.Type().Name(), nil
	}
	return nil, fmt.Errorf("cannot resolve concrete type for abstract type %q", abstractTypeName)
}

// DefaultLeafSerializer coerces the five builtin scalar types (Int to int,
// Float to float64, String and ID to string, Boolean to bool) and returns
// the value of any other type, enums included, unchanged.
func DefaultLeafSerializer(ctx context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String", "ID":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	default:
		return value, nil
	}
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
		return nil, fmt.Errorf("cannot serialize %v as Int", value)
	default:
		return nil, fmt.Errorf("cannot serialize %T as Int", value)
	}
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("cannot serialize %T as Float", value)
	}
}

func coerceToString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(value), nil
	}
}

func coerceToBoolean(value any) (any, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("cannot serialize %T as Boolean", value)
}
