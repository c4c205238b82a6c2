package events

import "time"

// ExecutionStart is emitted before executing a GraphQL operation.
type ExecutionStart struct {
	OperationName string
	OperationType string
}

// ExecutionFinish is emitted once the initial (synchronous) result of an
// operation has been computed — deferred/streamed patches, if any, are
// still outstanding at this point and reported individually below.
type ExecutionFinish struct {
	OperationName string
	OperationType string
	ErrorCount    int
	Duration      time.Duration
}

// PatchScheduled is emitted when a deferred fragment or a streamed list
// element is handed to the dispatcher.
type PatchScheduled struct {
	Label *string
	Path  []any
	Kind  string // "defer" or "stream"
}

// PatchEmitted is emitted once a scheduled patch has settled.
type PatchEmitted struct {
	Label    *string
	Path     []any
	Errored  bool
	Duration time.Duration
}
