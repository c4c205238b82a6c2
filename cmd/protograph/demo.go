package main

import (
	"context"
	"time"

	"github.com/hanpama/protograph/internal/executor"
	"github.com/hanpama/protograph/internal/schema"
)

// demoSchema builds a small feed schema — a Query.feed field returning a
// list of posts, each with a list of comments — used to exercise @defer and
// @stream end to end without requiring a caller-supplied schema.
func demoSchema() *schema.Schema {
	s := schema.NewSchema("A tiny feed API, used to demonstrate incremental delivery.")
	s.SetQueryType("Query")

	s.AddType(
		schema.NewType("Query", schema.TypeKindObject, "").
			AddField(schema.NewField("feed", "Recent posts.", schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("Post")))))),
	)
	s.AddType(
		schema.NewType("Post", schema.TypeKindObject, "").
			AddField(schema.NewField("id", "", schema.NonNullType(schema.NamedType("ID")))).
			AddField(schema.NewField("title", "", schema.NonNullType(schema.NamedType("String")))).
			AddField(schema.NewField("comments", "", schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("Comment")))))),
	)
	s.AddType(
		schema.NewType("Comment", schema.TypeKindObject, "").
			AddField(schema.NewField("id", "", schema.NonNullType(schema.NamedType("ID")))).
			AddField(schema.NewField("body", "", schema.NonNullType(schema.NamedType("String")))),
	)
	return s
}

type demoPost struct {
	ID    string
	Title string
}

type demoComment struct {
	ID   string
	Body string
}

// demoResolver resolves Query.feed directly and Post.comments after a small
// delay to make @defer/@stream's incremental delivery visible, and falls
// back to the reflective default for everything else.
func demoResolver(ctx context.Context, source any, args map[string]any, info *executor.ResolveInfo) (any, error) {
	switch {
	case info.ParentType.Name == "Query" && info.FieldName == "feed":
		return []any{
			demoPost{ID: "1", Title: "Hello, incremental delivery"},
			demoPost{ID: "2", Title: "Streaming comments"},
		}, nil
	case info.ParentType.Name == "Post" && info.FieldName == "comments":
		post := source.(demoPost)
		return executor.Go(func() (any, error) {
			time.Sleep(5 * time.Millisecond)
			return []any{
				demoComment{ID: post.ID + "-1", Body: "first comment"},
				demoComment{ID: post.ID + "-2", Body: "second comment"},
				demoComment{ID: post.ID + "-3", Body: "third comment"},
			}, nil
		}), nil
	default:
		return executor.DefaultFieldResolver(ctx, source, args, info)
	}
}
