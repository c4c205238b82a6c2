package executor

import (
	"fmt"
	"sync"

	language "github.com/hanpama/protograph/internal/language"
)

// Location is a source position a GraphQLError can be attributed to.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a located, response-shaped error, per spec's error
// taxonomy: every error that reaches a response carries the field path it
// occurred at (when one applies) and the source locations of the AST nodes
// responsible.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`

	cause error
}

func (e *GraphQLError) Error() string { return e.Message }

// Unwrap exposes the original error a resolver or serializer returned, so
// callers can errors.As/errors.Is through a located error.
func (e *GraphQLError) Unwrap() error { return e.cause }

func newLocatedError(message string, nodes []*language.Field, path *Path) *GraphQLError {
	return &GraphQLError{Message: message, Locations: locationsOf(nodes), Path: path.Segments()}
}

// wrapError turns an arbitrary resolver/serializer error into a located
// GraphQLError. A panic recovered at the field boundary also flows through
// here (see executor.go's resolveFieldSafely).
func wrapError(err error, nodes []*language.Field, path *Path) *GraphQLError {
	if gqlErr, ok := err.(*GraphQLError); ok {
		return gqlErr
	}
	return &GraphQLError{Message: err.Error(), Locations: locationsOf(nodes), Path: path.Segments(), cause: err}
}

// newDirectiveError builds a located error anchored at a directive usage
// itself, for failures discovered before there's a resolved field value to
// anchor to otherwise (e.g. an unregistered @defer/@stream).
func newDirectiveError(message string, d *language.Directive, path *Path) *GraphQLError {
	var locs []Location
	if d != nil && d.Position != nil {
		locs = []Location{{Line: d.Position.Line, Column: d.Position.Column}}
	}
	return &GraphQLError{Message: message, Locations: locs, Path: path.Segments()}
}

func locationsOf(nodes []*language.Field) []Location {
	if len(nodes) == 0 {
		return nil
	}
	locs := make([]Location, 0, len(nodes))
	for _, n := range nodes {
		if n.Position == nil {
			continue
		}
		locs = append(locs, Location{Line: n.Position.Line, Column: n.Position.Column})
	}
	return locs
}

func fieldDisplayName(nodes []*language.Field) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[0].Name
}

// ErrorSink collects located errors for one unit of work (the whole
// operation, or one deferred/streamed patch). Field completion for a
// single object fans its sub-fields out across goroutines, so the sink
// needs its own lock — Go has no single-threaded event loop to lean on the
// way the system this executor models does.
type ErrorSink struct {
	mu   sync.Mutex
	errs []*GraphQLError
	at   map[string]bool
}

func NewErrorSink() *ErrorSink {
	return &ErrorSink{at: map[string]bool{}}
}

func (s *ErrorSink) Add(err *GraphQLError) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	s.at[pathKey(err.Path)] = true
}

// HasPath reports whether an error has already been recorded at exactly
// this path, so a non-null violation isn't double-reported once for the
// child's own error and once for the parent's propagated one.
func (s *ErrorSink) HasPath(path []any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at[pathKey(path)]
}

// List returns the recorded errors in the order they were added. Never
// nil, so callers can always marshal it as `[]`.
func (s *ErrorSink) List() []*GraphQLError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*GraphQLError, len(s.errs))
	copy(out, s.errs)
	return out
}

func pathKey(segs []any) string {
	return fmt.Sprint(segs)
}
