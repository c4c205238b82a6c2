package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schema "github.com/hanpama/protograph/internal/schema"
)

func demoExecSchema() *schema.Schema {
	s := schema.NewSchema("")
	s.SetQueryType("Query")
	s.SetMutationType("Mutation")
	s.AddType(
		schema.NewType("Query", schema.TypeKindObject, "").
			AddField(schema.NewField("hello", "", schema.NonNullType(schema.NamedType("String")))).
			AddField(schema.NewField("user", "", schema.NamedType("User"))).
			AddField(schema.NewField("requiredUser", "", schema.NonNullType(schema.NamedType("User")))).
			AddField(schema.NewField("users", "", schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("User")))))),
	)
	s.AddType(
		schema.NewType("Mutation", schema.TypeKindObject, "").
			AddField(schema.NewField("first", "", schema.NonNullType(schema.NamedType("String")))).
			AddField(schema.NewField("second", "", schema.NonNullType(schema.NamedType("String")))),
	)
	s.AddType(
		schema.NewType("User", schema.TypeKindObject, "").
			AddField(schema.NewField("id", "", schema.NonNullType(schema.NamedType("ID")))).
			AddField(schema.NewField("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	return s
}

func TestExecuteRequestBasicQuery(t *testing.T) {
	sch := demoExecSchema()
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{ hello user { id name } users { id name } }`)

	source := map[string]any{
		"hello": "world",
		"user":  map[string]any{"id": "1", "name": "Ada"},
		"users": []any{
			map[string]any{"id": "1", "name": "Ada"},
			map[string]any{"id": "2", "name": "Bo"},
		},
	}

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.Nil(t, seq)
	require.Empty(t, initial.Errors)
	data := initial.Data.(map[string]any)
	assert.Equal(t, "world", data["hello"])
	assert.Equal(t, "Ada", data["user"].(map[string]any)["name"])
	users := data["users"].([]any)
	assert.Len(t, users, 2)
}

func TestNonNullViolationBubblesToData(t *testing.T) {
	sch := demoExecSchema()
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `{ hello requiredUser { id name } }`)

	source := map[string]any{
		"hello":        "world",
		"requiredUser": nil,
	}

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, source)
	require.Nil(t, seq)
	require.True(t, initial.HasData)
	assert.Nil(t, initial.Data)
	require.Len(t, initial.Errors, 1)
	assert.Contains(t, initial.Errors[0].Message, "requiredUser")
}

func TestMutationTopLevelFieldsRunInSourceOrder(t *testing.T) {
	sch := demoExecSchema()
	var order []string
	resolver := func(ctx context.Context, source any, args map[string]any, info *ResolveInfo) (any, error) {
		if info.ParentType.Name == "Mutation" {
			order = append(order, info.FieldName)
			return info.FieldName, nil
		}
		return DefaultFieldResolver(ctx, source, args, info)
	}
	exec := NewExecutor(sch, WithFieldResolver(resolver))
	doc := mustParseQuery(t, `mutation { first second }`)

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Nil(t, seq)
	require.Empty(t, initial.Errors)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnknownOperationNameIsAnError(t *testing.T) {
	sch := demoExecSchema()
	exec := NewExecutor(sch)
	doc := mustParseQuery(t, `query A { hello } query B { hello }`)

	initial, seq := exec.ExecuteRequest(context.Background(), doc, "C", nil, map[string]any{"hello": "x"})
	require.Nil(t, seq)
	require.False(t, initial.HasData)
	require.Len(t, initial.Errors, 1)
}
