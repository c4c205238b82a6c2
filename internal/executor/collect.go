package executor

import (
	"fmt"

	language "github.com/hanpama/protograph/internal/language"
	schema "github.com/hanpama/protograph/internal/schema"
)

// FieldGroup is the set of AST field nodes that share a response key
// within one selection set, after merging across fragment spreads and
// inline fragments (spec §4.2).
type FieldGroup struct {
	ResponseKey string
	Nodes       []*language.Field
}

// DeferredGroup is one fragment-spread or inline-fragment selection that
// carried an active @defer and was split out of its parent's primary
// field group, per spec §4.2/§4.1.
type DeferredGroup struct {
	Label        *string
	Path         *Path
	SelectionSet language.SelectionSet
	ParentType   *schema.Type
	Source       any
}

type collectResult struct {
	Fields   []*FieldGroup
	Deferred []*DeferredGroup
}

// collectFields walks sel, merging same-response-key fields across
// fragments, applying @skip/@include, resolving fragment type conditions
// against parentType (including interface/union membership, not just exact
// name equality), and splitting out any selection carrying an active
// @defer into its own deferred group instead of merging it into the
// primary result.
func collectFields(ec *executionContext, parentType *schema.Type, source any, sel language.SelectionSet, path *Path) *collectResult {
	res := &collectResult{}
	index := map[string]int{}
	visited := map[string]bool{}

	var walk func(sel language.SelectionSet)
	walk = func(sel language.SelectionSet) {
		for _, s := range sel {
			switch node := s.(type) {
			case *language.Field:
				if !shouldInclude(node.Directives, ec.variables) {
					continue
				}
				key := node.Alias
				if key == "" {
					key = node.Name
				}
				if idx, ok := index[key]; ok {
					res.Fields[idx].Nodes = append(res.Fields[idx].Nodes, node)
				} else {
					index[key] = len(res.Fields)
					res.Fields = append(res.Fields, &FieldGroup{ResponseKey: key, Nodes: []*language.Field{node}})
				}

			case *language.InlineFragment:
				if !shouldInclude(node.Directives, ec.variables) {
					continue
				}
				if !typeConditionApplies(ec.schema, parentType, node.TypeCondition) {
					continue
				}
				if deferDir := node.Directives.ForName("defer"); deferDir != nil && ec.schema.Directives["defer"] == nil {
					ec.topErrors.Add(newDirectiveError(`Unknown directive "@defer".`, deferDir, path))
				} else if def := readDefer(node.Directives, ec.variables); def != nil && def.If {
					res.Deferred = append(res.Deferred, &DeferredGroup{
						Label: def.Label, Path: path, SelectionSet: node.SelectionSet,
						ParentType: parentType, Source: source,
					})
					continue
				}
				walk(node.SelectionSet)

			case *language.FragmentSpread:
				if !shouldInclude(node.Directives, ec.variables) {
					continue
				}
				fragDef := ec.document.Fragments.ForName(node.Name)
				if fragDef == nil {
					continue
				}
				if !shouldInclude(fragDef.Directives, ec.variables) {
					continue
				}
				if !typeConditionApplies(ec.schema, parentType, fragDef.TypeCondition) {
					continue
				}
				if deferDir := node.Directives.ForName("defer"); deferDir != nil && ec.schema.Directives["defer"] == nil {
					ec.topErrors.Add(newDirectiveError(`Unknown directive "@defer".`, deferDir, path))
				} else if def := readDefer(node.Directives, ec.variables); def != nil && def.If {
					if visited[node.Name+"@defer"] {
						continue
					}
					visited[node.Name+"@defer"] = true
					res.Deferred = append(res.Deferred, &DeferredGroup{
						Label: def.Label, Path: path, SelectionSet: fragDef.SelectionSet,
						ParentType: parentType, Source: source,
					})
					continue
				}
				if visited[node.Name] {
					continue
				}
				visited[node.Name] = true
				walk(fragDef.SelectionSet)
			}
		}
	}
	walk(sel)
	checkStreamConflicts(ec, res.Fields)
	return res
}

func typeConditionApplies(sch *schema.Schema, parentType *schema.Type, cond string) bool {
	if cond == "" || cond == parentType.Name {
		return true
	}
	t, ok := sch.Types[cond]
	if !ok {
		return false
	}
	switch t.Kind {
	case schema.TypeKindInterface:
		for _, ifc := range parentType.Interfaces {
			if ifc == cond {
				return true
			}
		}
	case schema.TypeKindUnion:
		for _, p := range t.PossibleTypes {
			if p == parentType.Name {
				return true
			}
		}
	}
	return false
}

// checkStreamConflicts implements spec §4.1's @stream conflict check:
// fields sharing a response key must agree on their @stream directive
// (same if/label/initialCount, or none on any of them).
func checkStreamConflicts(ec *executionContext, groups []*FieldGroup) {
	for _, g := range groups {
		if len(g.Nodes) < 2 {
			continue
		}
		first := readStream(g.Nodes[0].Directives, ec.variables)
		conflict := false
		for _, n := range g.Nodes[1:] {
			if !streamDirectivesEqual(first, readStream(n.Directives, ec.variables)) {
				conflict = true
				break
			}
		}
		if conflict {
			ec.topErrors.Add(&GraphQLError{
				Message: fmt.Sprintf("Fields %q conflict because they have differing stream directives. Use different aliases on the fields to fetch both if this was intentional.", g.ResponseKey),
				Locations: locationsOf(g.Nodes),
			})
		}
	}
}

func lookupField(t *schema.Type, name string) *schema.Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// mergeSelectionSets flattens the selection sets of a merged field group
// into one, so an object value reached through multiple aliases-free field
// occurrences (e.g. via two fragments) is only ever executed once with the
// union of their sub-selections.
func mergeSelectionSets(nodes []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, n := range nodes {
		merged = append(merged, n.SelectionSet...)
	}
	return merged
}
