package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dispatch "github.com/hanpama/protograph/internal/dispatch"
	events "github.com/hanpama/protograph/internal/events"
	eventbus "github.com/hanpama/protograph/internal/eventbus"
	language "github.com/hanpama/protograph/internal/language"
	schema "github.com/hanpama/protograph/internal/schema"
)

// Executor is the entry point (C6): it owns a schema and the collaborators
// an execution needs, and turns one request into either a single
// ExecutionResult or an ExecutionResult plus a ResultSequence of patches.
type Executor struct {
	schema         *schema.Schema
	fieldResolver  FieldResolver
	typeResolver   TypeResolver
	leafSerializer LeafSerializer
}

// Option configures an Executor's collaborators. Callers that don't
// provide one get the reflective defaults in resolver.go.
type Option func(*Executor)

func WithFieldResolver(r FieldResolver) Option     { return func(e *Executor) { e.fieldResolver = r } }
func WithTypeResolver(r TypeResolver) Option       { return func(e *Executor) { e.typeResolver = r } }
func WithLeafSerializer(s LeafSerializer) Option   { return func(e *Executor) { e.leafSerializer = s } }

func NewExecutor(sch *schema.Schema, opts ...Option) *Executor {
	e := &Executor{schema: sch, fieldResolver: DefaultFieldResolver, typeResolver: DefaultTypeResolver, leafSerializer: DefaultLeafSerializer}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitialResult is the first element of an execution's output: the
// response.errors/data pair computed from everything that resolved
// synchronously, plus whether any deferred or streamed work remains.
type InitialResult struct {
	Data    any
	HasData bool
	Errors  []*GraphQLError
	HasNext bool
}

func (r *InitialResult) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if r.HasData {
		m["data"] = r.Data
	}
	if len(r.Errors) > 0 {
		m["errors"] = r.Errors
	}
	if r.HasNext {
		m["hasNext"] = true
	}
	return json.Marshal(m)
}

// Patch is one incremental delivery (spec §3/§6): a deferred fragment's
// object, or one streamed list element, anchored at Path.
type Patch struct {
	Data    any
	Path    []any
	Label   *string
	Errors  []*GraphQLError
	HasNext bool

	closing bool
}

func (p *Patch) MarshalJSON() ([]byte, error) {
	m := map[string]any{"hasNext": p.HasNext}
	if !p.closing {
		m["data"] = p.Data
		m["path"] = p.Path
	}
	if p.Label != nil {
		m["label"] = *p.Label
	}
	if len(p.Errors) > 0 {
		m["errors"] = p.Errors
	}
	return json.Marshal(m)
}

// ResultSequence is the lazy, pull-based, single-pass stream of patches
// that follows an InitialResult whenever HasNext was true.
type ResultSequence struct {
	d *dispatch.Dispatcher[*Patch]
}

// Next blocks until the next patch is ready or ctx is done. ok is false
// once the terminal patch (HasNext: false) has already been returned, or
// ctx expired first.
func (s *ResultSequence) Next(ctx context.Context) (*Patch, bool) {
	elem, ok := s.d.Recv(ctx)
	if !ok {
		return nil, false
	}
	elem.Payload.HasNext = elem.HasNext
	return elem.Payload, true
}

// executionContext carries the state shared by every goroutine fanned out
// during one request's execution.
type executionContext struct {
	ctx            context.Context
	schema         *schema.Schema
	document       *language.QueryDocument
	variables      map[string]any
	fieldResolver  FieldResolver
	typeResolver   TypeResolver
	leafSerializer LeafSerializer
	dispatcher     *dispatch.Dispatcher[*Patch]
	topErrors      *ErrorSink
}

// ExecuteRequest runs document (spec's external "execute" operation). It
// always returns an InitialResult; when that result's HasNext is true, seq
// is non-nil and must be drained to completion, or abandoned by cancelling
// ctx (which gives a streamed AsyncIterator implementing Closer a
// best-effort Close call).
func (e *Executor) ExecuteRequest(ctx context.Context, document *language.QueryDocument, operationName string, variableValues map[string]any, initialValue any) (*InitialResult, *ResultSequence) {
	op, err := getOperation(document, operationName)
	if err != nil {
		return &InitialResult{Errors: []*GraphQLError{{Message: err.Error()}}}, nil
	}

	start := time.Now()
	eventbus.Publish(ctx, events.ExecutionStart{OperationName: op.Name, OperationType: string(op.Operation)})

	vars, varErrs := coerceVariableValues(e.schema, op, variableValues)
	if len(varErrs) > 0 {
		res := &InitialResult{Errors: varErrs}
		eventbus.Publish(ctx, events.ExecutionFinish{OperationName: op.Name, OperationType: string(op.Operation), ErrorCount: len(varErrs), Duration: time.Since(start)})
		return res, nil
	}

	rootTypeName, err := rootTypeNameFor(e.schema, op.Operation)
	if err != nil {
		res := &InitialResult{Errors: []*GraphQLError{{Message: err.Error()}}}
		eventbus.Publish(ctx, events.ExecutionFinish{OperationName: op.Name, OperationType: string(op.Operation), ErrorCount: 1, Duration: time.Since(start)})
		return res, nil
	}
	rootType := e.schema.Types[rootTypeName]

	ec := &executionContext{
		ctx: ctx, schema: e.schema, document: document, variables: vars,
		fieldResolver: e.fieldResolver, typeResolver: e.typeResolver, leafSerializer: e.leafSerializer,
		dispatcher: dispatch.New[*Patch](),
		topErrors:  NewErrorSink(),
	}

	sequential := op.Operation == language.Mutation
	data, bubble := ec.executeSelectionSet(ctx, rootType, initialValue, op.SelectionSet, nil, ec.topErrors, sequential)
	if bubble {
		data = nil
	}

	errs := ec.topErrors.List()
	hasNext := ec.dispatcher.HasScheduled()
	eventbus.Publish(ctx, events.ExecutionFinish{OperationName: op.Name, OperationType: string(op.Operation), ErrorCount: len(errs), Duration: time.Since(start)})

	initial := &InitialResult{Data: data, HasData: true, Errors: errs, HasNext: hasNext}
	if !hasNext {
		return initial, nil
	}
	return initial, &ResultSequence{d: ec.dispatcher}
}

func rootTypeNameFor(sch *schema.Schema, op language.Operation) (string, error) {
	switch op {
	case language.Query:
		if sch.QueryType == "" {
			return "", fmt.Errorf("schema does not define a query type")
		}
		return sch.QueryType, nil
	case language.Mutation:
		if sch.MutationType == "" {
			return "", fmt.Errorf("schema does not define a mutation type")
		}
		return sch.MutationType, nil
	case language.Subscription:
		return "", fmt.Errorf("subscriptions are not supported by this executor")
	default:
		return "", fmt.Errorf("unsupported operation type %q", op)
	}
}

func getOperation(document *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if operationName != "" {
		op := document.Operations.ForName(operationName)
		if op == nil {
			return nil, fmt.Errorf("unknown operation %q", operationName)
		}
		return op, nil
	}
	if len(document.Operations) != 1 {
		return nil, fmt.Errorf("must provide an operation name when a document contains multiple operations")
	}
	return document.Operations[0], nil
}

// executeSelectionSet runs the Executor's top half (spec §4.6): collect
// fields, schedule deferred groups, and execute each field group either
// concurrently (the normal case) or strictly in source order (mutation
// top-level fields, spec P5).
func (ec *executionContext) executeSelectionSet(ctx context.Context, objType *schema.Type, source any, sel language.SelectionSet, path *Path, sink *ErrorSink, sequential bool) (any, bool) {
	collected := collectFields(ec, objType, source, sel, path)

	for _, dg := range collected.Deferred {
		ec.scheduleDeferredGroup(dg)
	}

	n := len(collected.Fields)
	values := make([]any, n)
	bubbles := make([]bool, n)

	run := func(i int) {
		fg := collected.Fields[i]
		values[i], bubbles[i] = ec.executeFieldGroup(ctx, objType, source, fg, path.Field(fg.ResponseKey), sink)
	}

	if sequential {
		for i := 0; i < n; i++ {
			run(i)
		}
	} else {
		runListItems(n, run)
	}

	result := make(map[string]any, n)
	for i, fg := range collected.Fields {
		if bubbles[i] {
			return nil, true
		}
		result[fg.ResponseKey] = values[i]
	}
	return result, false
}

// executeFieldGroup resolves and completes one merged field group (spec
// §4.6's per-field step): looks up the field definition, coerces its
// arguments, invokes the resolver (or the schema meta-fields), and routes
// list fields with an active @stream through the StreamDriver instead of
// ordinary list completion.
func (ec *executionContext) executeFieldGroup(ctx context.Context, parentType *schema.Type, source any, fg *FieldGroup, path *Path, sink *ErrorSink) (any, bool) {
	name := fg.Nodes[0].Name
	if name == "__typename" {
		return parentType.Name, false
	}

	fieldDef := lookupField(parentType, name)
	if fieldDef == nil {
		sink.Add(newLocatedError(fmt.Sprintf("Cannot query field %q on type %q.", name, parentType.Name), fg.Nodes, path))
		return nil, false
	}

	args := ec.coerceArgumentValues(fieldDef, fg.Nodes[0].Arguments, fg.Nodes, path)
	info := &ResolveInfo{FieldName: name, ParentType: parentType, ReturnType: fieldDef.Type, Path: path, Variables: ec.variables}

	raw, err := ec.resolveFieldSafely(ctx, source, args, info)
	if err != nil {
		sink.Add(wrapError(err, fg.Nodes, path))
		if schema.IsNonNull(fieldDef.Type) {
			return nil, true
		}
		return nil, false
	}

	if schema.IsList(fieldDef.Type) {
		if streamDir := fg.Nodes[0].Directives.ForName("stream"); streamDir != nil {
			if ec.schema.Directives["stream"] == nil {
				sink.Add(newDirectiveError(`Unknown directive "@stream".`, streamDir, path))
			} else if sd := readStream(fg.Nodes[0].Directives, ec.variables); sd != nil && sd.If {
				return ec.driveStreamField(ctx, fieldDef, fg.Nodes, path, raw, sd, sink)
			}
		}
	}
	return ec.completeValue(ctx, fieldDef.Type, fg.Nodes, path, raw, sink)
}

// resolveFieldSafely recovers a resolver panic into a located error, the
// way qktrzrj-graphql's defaultRecovery chain does, rather than letting one
// misbehaving resolver take down the whole execution.
func (ec *executionContext) resolveFieldSafely(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in resolver for %s.%s: %v", info.ParentType.Name, info.FieldName, r)
		}
	}()
	resolver := ec.fieldResolver
	if resolver == nil {
		resolver = DefaultFieldResolver
	}
	return resolver(ctx, source, args, info)
}
