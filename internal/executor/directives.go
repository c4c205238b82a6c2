package executor

import (
	"strconv"

	language "github.com/hanpama/protograph/internal/language"
)

// shouldInclude applies @skip and @include to a selection, per the GraphQL
// spec's fixed precedence: @skip wins over @include when both are present.
func shouldInclude(dirs language.DirectiveList, vars map[string]any) bool {
	if d := dirs.ForName("skip"); d != nil {
		if v, ok := boolArg(d, "if", vars, false); ok && v {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if v, ok := boolArg(d, "if", vars, true); ok && !v {
			return false
		}
	}
	return true
}

// DeferDirective is the resolved, variable-substituted form of @defer.
type DeferDirective struct {
	If    bool
	Label *string
}

func readDefer(dirs language.DirectiveList, vars map[string]any) *DeferDirective {
	d := dirs.ForName("defer")
	if d == nil {
		return nil
	}
	res := &DeferDirective{If: true}
	if v, ok := boolArg(d, "if", vars, true); ok {
		res.If = v
	}
	if lbl, ok := stringArg(d, "label", vars); ok {
		res.Label = &lbl
	}
	return res
}

// StreamDirective is the resolved, variable-substituted form of @stream.
type StreamDirective struct {
	If           bool
	Label        *string
	InitialCount int
}

func readStream(dirs language.DirectiveList, vars map[string]any) *StreamDirective {
	d := dirs.ForName("stream")
	if d == nil {
		return nil
	}
	res := &StreamDirective{If: true, InitialCount: 0}
	if v, ok := boolArg(d, "if", vars, true); ok {
		res.If = v
	}
	if lbl, ok := stringArg(d, "label", vars); ok {
		res.Label = &lbl
	}
	if n, ok := intArg(d, "initialCount", vars, 0); ok {
		res.InitialCount = n
	}
	return res
}

func streamDirectivesEqual(a, b *StreamDirective) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.If != b.If || a.InitialCount != b.InitialCount {
		return false
	}
	if (a.Label == nil) != (b.Label == nil) {
		return false
	}
	return a.Label == nil || *a.Label == *b.Label
}

func argValue(d *language.Directive, name string, vars map[string]any) (any, bool) {
	for _, a := range d.Arguments {
		if a.Name == name {
			return valueFromAST(a.Value, vars), true
		}
	}
	return nil, false
}

func boolArg(d *language.Directive, name string, vars map[string]any, def bool) (bool, bool) {
	v, ok := argValue(d, name, vars)
	if !ok || v == nil {
		return def, true
	}
	b, ok := v.(bool)
	if !ok {
		return def, false
	}
	return b, true
}

func stringArg(d *language.Directive, name string, vars map[string]any) (string, bool) {
	v, ok := argValue(d, name, vars)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArg(d *language.Directive, name string, vars map[string]any, def int) (int, bool) {
	v, ok := argValue(d, name, vars)
	if !ok || v == nil {
		return def, true
	}
	n, ok := v.(int)
	if !ok {
		return def, false
	}
	return n, true
}

// valueFromAST resolves an AST value node against the operation's
// coerced variables, producing the plain Go value directive/argument
// readers operate on.
func valueFromAST(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		return vars[v.Raw]
	case language.IntValue:
		n, _ := strconv.Atoi(v.Raw)
		return n
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = valueFromAST(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		out := map[string]any{}
		for _, c := range v.Children {
			out[c.Name] = valueFromAST(c.Value, vars)
		}
		return out
	default:
		return nil
	}
}
