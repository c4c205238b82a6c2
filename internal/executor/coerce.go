package executor

import (
	"fmt"

	language "github.com/hanpama/protograph/internal/language"
	schema "github.com/hanpama/protograph/internal/schema"
)

// coerceVariableValues validates the raw variable map supplied by the
// caller against the operation's variable definitions, applying defaults
// and rejecting missing required (Non-Null, no default) variables.
func coerceVariableValues(sch *schema.Schema, op *language.OperationDefinition, raw map[string]any) (map[string]any, []*GraphQLError) {
	out := map[string]any{}
	var errs []*GraphQLError
	for _, def := range op.VariableDefinitions {
		name := def.Variable
		typeRef := typeRefFromAST(def.Type)
		if v, ok := raw[name]; ok {
			out[name] = v
			continue
		}
		if def.DefaultValue != nil {
			out[name] = valueFromAST(def.DefaultValue, nil)
			continue
		}
		if schema.IsNonNull(typeRef) {
			errs = append(errs, &GraphQLError{Message: fmt.Sprintf("Variable %q of required type %q was not provided.", "$"+name, renderTypeRefName(typeRef))})
			continue
		}
		out[name] = nil
	}
	return out, errs
}

// coerceArgumentValues resolves a field's AST arguments against its
// definition, substituting variables and defaults.
func (ec *executionContext) coerceArgumentValues(fieldDef *schema.Field, argNodes language.ArgumentList, nodes []*language.Field, path *Path) map[string]any {
	out := map[string]any{}
	provided := map[string]bool{}
	for _, a := range argNodes {
		provided[a.Name] = true
	}
	for _, def := range fieldDef.Arguments {
		if a := findArgument(argNodes, def.Name); a != nil {
			out[def.Name] = valueFromAST(a.Value, ec.variables)
			continue
		}
		if def.DefaultValue != nil {
			out[def.Name] = def.DefaultValue
			continue
		}
		if schema.IsNonNull(def.Type) {
			ec.topErrors.Add(newLocatedError(fmt.Sprintf("Argument %q of required type %q was not provided.", def.Name, renderTypeRefName(def.Type)), nodes, path))
		}
	}
	return out
}

func findArgument(args language.ArgumentList, name string) *language.Argument {
	for _, a := range args {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return schema.NonNullType(typeRefFromAST(&inner))
	}
	if t.Elem != nil {
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return schema.NamedType(t.NamedType)
}

func renderTypeRefName(t *schema.TypeRef) string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case schema.TypeRefKindNonNull:
		return renderTypeRefName(t.OfType) + "!"
	case schema.TypeRefKindList:
		return "[" + renderTypeRefName(t.OfType) + "]"
	default:
		return t.Named
	}
}
