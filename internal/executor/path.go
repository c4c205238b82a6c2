package executor

// Path is an immutable response-path node: a reverse-linked list from the
// current field back to the root. Each node holds one segment (a field's
// response key, or a list index) and a pointer to its parent. Nodes are
// never mutated once created, so a Path can be shared freely across the
// goroutines that fan out to complete sibling fields and list elements.
//
// A nil *Path denotes the root.
type Path struct {
	parent *Path
	key    any // string response key, or int list index
}

// Field returns the path extended by one field response key.
func (p *Path) Field(responseKey string) *Path {
	return &Path{parent: p, key: responseKey}
}

// Index returns the path extended by one list index.
func (p *Path) Index(i int) *Path {
	return &Path{parent: p, key: i}
}

// Segments flattens the reverse-linked list into a root-first slice of
// strings and ints, the shape used on the wire.
func (p *Path) Segments() []any {
	if p == nil {
		return nil
	}
	n := 0
	for c := p; c != nil; c = c.parent {
		n++
	}
	segs := make([]any, n)
	for c, i := p, n-1; c != nil; c, i = c.parent, i-1 {
		segs[i] = c.key
	}
	return segs
}

// Equal reports whether two paths flatten to the same sequence of segments.
func (p *Path) Equal(other *Path) bool {
	a, b := p.Segments(), other.Segments()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
