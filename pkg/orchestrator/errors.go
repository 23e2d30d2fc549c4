package orchestrator

import (
	"errors"
	"fmt"

	"agentcore/pkg/graph"
)

var (
	// ErrInvalidRequest is returned by Send before any run starts.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMissingResponse means a node that consumes a model turn ran without one.
	ErrMissingResponse = errors.New("node invoked without a model response")

	// ErrStageNotPermitted means a node reached a stage policy forbids for the mode.
	ErrStageNotPermitted = errors.New("stage not permitted for mode")
)

// InternalError reports a topology or invariant violation. It is never
// recovered: the run ends and the error is surfaced as is.
type InternalError struct {
	Node string
	Err  error
}

func (e *InternalError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("internal orchestration error: %v", e.Err)
	}
	return fmt.Sprintf("internal orchestration error in %s: %v", e.Node, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func internal(node string, err error) error {
	return &InternalError{Node: node, Err: err}
}

// IsInternal reports whether err is an orchestration invariant violation.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// classify turns graph driver failures into InternalError. Node errors pass
// through unchanged.
func classify(err error) error {
	if err == nil || IsInternal(err) {
		return err
	}
	switch {
	case errors.Is(err, graph.ErrMaxHops),
		errors.Is(err, graph.ErrUnknownNode),
		errors.Is(err, graph.ErrNoTransition),
		errors.Is(err, graph.ErrDuplicateNode):
		return internal("", err)
	}
	return err
}
