package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schema "github.com/hanpama/protograph/internal/schema"
)

func feedSchema() *schema.Schema {
	s := schema.NewSchema("")
	s.SetQueryType("Query")
	s.AddType(
		schema.NewType("Query", schema.TypeKindObject, "").
			AddField(schema.NewField("post", "", schema.NonNullType(schema.NamedType("Post")))),
	)
	s.AddType(
		schema.NewType("Post", schema.TypeKindObject, "").
			AddField(schema.NewField("title", "", schema.NonNullType(schema.NamedType("String")))).
			AddField(schema.NewField("author", "", schema.NonNullType(schema.NamedType("String")))).
			AddField(schema.NewField("comments", "", schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("String")))))),
	)
	return s
}

func drainPatches(t *testing.T, seq *ResultSequence) []*Patch {
	t.Helper()
	var out []*Patch
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		p, ok := seq.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, p)
		if !p.HasNext {
			return out
		}
	}
}

func TestDeferredFragmentIsOmittedFromInitialResultAndDeliveredAsPatch(t *testing.T) {
	sch := feedSchema()
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{
		post {
			title
			... @defer(label: "slow") {
				author
			}
		}
	}`)

	source := map[string]any{
		"post": map[string]any{"title": "Hello", "author": "Ada"},
	}

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.NotNil(t, seq)
	require.True(t, initial.HasNext)
	postData := initial.Data.(map[string]any)["post"].(map[string]any)
	assert.Equal(t, "Hello", postData["title"])
	_, hasAuthor := postData["author"]
	assert.False(t, hasAuthor, "deferred field must not appear in the initial result")

	patches := drainPatches(t, seq)
	require.Len(t, patches, 1)
	last := patches[len(patches)-1]
	assert.False(t, last.HasNext)
	require.Equal(t, "slow", *last.Label)
	assert.Equal(t, "Ada", last.Data.(map[string]any)["author"])
}

func TestStreamedFieldDeliversInitialCountInlineAndRestAsPatches(t *testing.T) {
	sch := feedSchema()
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{ post { comments @stream(initialCount: 1) } }`)

	source := map[string]any{
		"post": map[string]any{
			"comments": []any{"first", "second", "third"},
		},
	}

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.NotNil(t, seq)
	postData := initial.Data.(map[string]any)["post"].(map[string]any)
	comments := postData["comments"].([]any)
	require.Len(t, comments, 1)
	assert.Equal(t, "first", comments[0])

	patches := drainPatches(t, seq)
	require.Len(t, patches, 2)
	byData := map[any]*Patch{}
	for _, p := range patches {
		byData[p.Data] = p
	}
	require.Contains(t, byData, "second")
	assert.Equal(t, []any{"post", "comments", 1}, byData["second"].Path)
	require.Contains(t, byData, "third")
	assert.Equal(t, []any{"post", "comments", 2}, byData["third"].Path)

	terminal := 0
	for _, p := range patches {
		if !p.HasNext {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one patch must carry HasNext: false")
}

type fakeAsyncIterator struct {
	items  []any
	i      int
	closed bool
}

func (f *fakeAsyncIterator) Next(ctx context.Context) (any, bool, error) {
	if f.i >= len(f.items) {
		return nil, true, nil
	}
	v := f.items[f.i]
	f.i++
	return v, false, nil
}

func (f *fakeAsyncIterator) Close() error {
	f.closed = true
	return nil
}

func TestStreamedFieldFromAsyncIteratorEmitsMandatoryClosingPatch(t *testing.T) {
	sch := feedSchema()
	it := &fakeAsyncIterator{items: []any{"x", "y"}}
	resolver := func(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error) {
		if info.FieldName == "comments" {
			return it, nil
		}
		return DefaultFieldResolver(ctx, source, args, info)
	}
	exec := NewExecutor(sch, WithFieldResolver(resolver))
	doc := mustParseQuery(t, `{ post { comments @stream(initialCount: 0) } }`)

	source := map[string]any{"post": map[string]any{}}
	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.NotNil(t, seq)
	postData := initial.Data.(map[string]any)["post"].(map[string]any)
	assert.Equal(t, []any{}, postData["comments"])

	patches := drainPatches(t, seq)
	require.Len(t, patches, 3)

	var data []any
	var closing *Patch
	terminal := 0
	for _, p := range patches {
		if p.Path == nil {
			closing = p
		} else {
			data = append(data, p.Data)
		}
		if !p.HasNext {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one patch must carry HasNext: false")
	require.NotNil(t, closing, "async-iterator stream must emit a closing patch with no path")
	assert.ElementsMatch(t, []any{"x", "y"}, data)
}

// slowPullAsyncIterator models a real I/O-bound source: each Next call
// takes noticeably longer than the work needed to complete the item it
// returns. That shape is what lets outstanding legitimately bottom out
// between draws if the pull loop doesn't hold its own dispatcher slot.
type slowPullAsyncIterator struct {
	items []any
	i     int
}

func (f *slowPullAsyncIterator) Next(ctx context.Context) (any, bool, error) {
	time.Sleep(5 * time.Millisecond)
	if f.i >= len(f.items) {
		return nil, true, nil
	}
	v := f.items[f.i]
	f.i++
	return v, false, nil
}

func TestStreamedFieldFromSlowAsyncIteratorDoesNotCloseEarly(t *testing.T) {
	sch := feedSchema()
	it := &slowPullAsyncIterator{items: []any{"a", "b", "c", "d", "e"}}
	resolver := func(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error) {
		if info.FieldName == "comments" {
			return it, nil
		}
		return DefaultFieldResolver(ctx, source, args, info)
	}
	exec := NewExecutor(sch, WithFieldResolver(resolver))
	doc := mustParseQuery(t, `{ post { comments @stream(initialCount: 0) } }`)

	source := map[string]any{"post": map[string]any{}}
	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.NotNil(t, seq)
	postData := initial.Data.(map[string]any)["post"].(map[string]any)
	assert.Equal(t, []any{}, postData["comments"])

	// Each drawn item completes near-instantly relative to the 5ms it takes
	// to pull the next one, so outstanding would repeatedly touch zero
	// between draws without the dispatcher reservation held for the pull
	// loop's whole lifetime. A regression here panics with "send on closed
	// channel" rather than failing an assertion.
	patches := drainPatches(t, seq)
	require.Len(t, patches, 6) // 5 items + 1 closing patch

	terminal := 0
	var data []any
	for _, p := range patches {
		if p.Path != nil {
			data = append(data, p.Data)
		}
		if !p.HasNext {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one patch must carry HasNext: false")
	assert.ElementsMatch(t, []any{"a", "b", "c", "d", "e"}, data)
}

func TestStreamDirectiveUnknownToSchemaIsAnError(t *testing.T) {
	sch := feedSchema()
	delete(sch.Directives, "stream")
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{ post { comments @stream(initialCount: 0, label: "HeroFriends") } }`)

	source := map[string]any{"post": map[string]any{"comments": []any{"a", "b", "c"}}}
	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.Len(t, initial.Errors, 1)
	assert.Equal(t, `Unknown directive "@stream".`, initial.Errors[0].Message)
	require.Len(t, initial.Errors[0].Locations, 1)

	// The directive is rejected, not honored: the field still completes as
	// an ordinary (non-streamed) list, so there is no patch sequence.
	require.Nil(t, seq)
	comments := initial.Data.(map[string]any)["post"].(map[string]any)["comments"]
	assert.Equal(t, []any{"a", "b", "c"}, comments)
}

func TestDeferDirectiveUnknownToSchemaIsAnError(t *testing.T) {
	sch := feedSchema()
	delete(sch.Directives, "defer")
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{ post { title ... @defer(label: "slow") { author } } }`)

	source := map[string]any{"post": map[string]any{"title": "Hello", "author": "Ada"}}
	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.Nil(t, seq)
	require.Len(t, initial.Errors, 1)
	assert.Equal(t, `Unknown directive "@defer".`, initial.Errors[0].Message)

	postData := initial.Data.(map[string]any)["post"].(map[string]any)
	assert.Equal(t, "Hello", postData["title"])
	assert.Equal(t, "Ada", postData["author"], "rejected @defer falls back to an ordinary, inline selection")
}

func streamItemSchema() *schema.Schema {
	s := schema.NewSchema("")
	s.SetQueryType("Query")
	s.AddType(
		schema.NewType("Query", schema.TypeKindObject, "").
			AddField(schema.NewField("post", "", schema.NonNullType(schema.NamedType("Post")))),
	)
	s.AddType(
		schema.NewType("Post", schema.TypeKindObject, "").
			AddField(schema.NewField("comments", "", schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("Comment")))))),
	)
	s.AddType(
		schema.NewType("Comment", schema.TypeKindObject, "").
			AddField(schema.NewField("secretFriend", "", schema.NamedType("String"))),
	)
	return s
}

func TestStreamedItemsCarryIndependentPerItemErrors(t *testing.T) {
	sch := streamItemSchema()
	resolver := func(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error) {
		if info.FieldName == "secretFriend" {
			return nil, fmt.Errorf("secretFriend is secret.")
		}
		return DefaultFieldResolver(ctx, source, args, info)
	}
	exec := NewExecutor(sch, WithFieldResolver(resolver))
	doc := mustParseQuery(t, `{ post { comments @stream(initialCount: 0) { secretFriend } } }`)

	source := map[string]any{
		"post": map[string]any{"comments": []any{map[string]any{}, map[string]any{}, map[string]any{}}},
	}

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.NotNil(t, seq)
	postData := initial.Data.(map[string]any)["post"].(map[string]any)
	assert.Equal(t, []any{}, postData["comments"])

	patches := drainPatches(t, seq)
	require.Len(t, patches, 3)

	seenIndex := map[int]bool{}
	terminal := 0
	for _, p := range patches {
		require.Len(t, p.Path, 3)
		idx, ok := p.Path[2].(int)
		require.True(t, ok)
		seenIndex[idx] = true

		data := p.Data.(map[string]any)
		assert.Nil(t, data["secretFriend"])
		require.Len(t, p.Errors, 1)
		assert.Equal(t, "secretFriend is secret.", p.Errors[0].Message)
		assert.Equal(t, append(append([]any{}, p.Path...), "secretFriend"), p.Errors[0].Path)

		if !p.HasNext {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one patch must carry HasNext: false")
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, seenIndex)
}

func TestNestedDeferDeliversInnerPatchBeforeOuter(t *testing.T) {
	sch := feedSchema()
	resolver := func(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error) {
		if info.ParentType.Name == "Post" && info.FieldName == "author" {
			time.Sleep(20 * time.Millisecond)
		}
		return DefaultFieldResolver(ctx, source, args, info)
	}
	exec := NewExecutor(sch, WithFieldResolver(resolver))
	doc := mustParseQuery(t, `{
		post {
			title
			... @defer(label: "D1") {
				author
				... @defer(label: "D2") {
					comments
				}
			}
		}
	}`)

	source := map[string]any{
		"post": map[string]any{"title": "Hello", "author": "Ada", "comments": []any{"x"}},
	}

	_, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.NotNil(t, seq)

	patches := drainPatches(t, seq)
	require.Len(t, patches, 2)

	inner, outer := patches[0], patches[1]
	require.NotNil(t, inner.Label)
	require.NotNil(t, outer.Label)
	assert.Equal(t, "D2", *inner.Label, "the nested defer must resolve and be delivered first")
	assert.True(t, inner.HasNext)
	assert.Equal(t, []any{"x"}, inner.Data.(map[string]any)["comments"])

	assert.Equal(t, "D1", *outer.Label)
	assert.False(t, outer.HasNext)
	assert.Equal(t, "Ada", outer.Data.(map[string]any)["author"])
}

func TestStreamDirectiveConflictReportsErrorAtBothLocations(t *testing.T) {
	sch := feedSchema()
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{
		post {
			comments @stream(initialCount: 1)
			comments @stream(initialCount: 2)
		}
	}`)

	source := map[string]any{"post": map[string]any{"comments": []any{"a", "b", "c"}}}
	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)

	require.Len(t, initial.Errors, 1)
	assert.Contains(t, initial.Errors[0].Message, "conflict because they have differing stream directives")
	assert.Len(t, initial.Errors[0].Locations, 2)

	if seq != nil {
		drainPatches(t, seq)
	}
}
