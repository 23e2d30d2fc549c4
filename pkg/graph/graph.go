// Package graph runs a state machine of named nodes with a trampoline loop.
//
// A node receives the current state and returns the next one, which carries
// the transition to follow. Nodes never call each other: sequencing is data,
// and the driver resolves the next node by id until a node ends the run or
// the hop budget is spent.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agentcore/pkg/logx"
)

// Driver errors. ErrMaxHops and ErrUnknownNode indicate a topology bug and
// are fatal to the run.
var (
	ErrMaxHops       = errors.New("maximum node hops exceeded")
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrNoTransition  = errors.New("node returned no transition")
)

// Transition is where control goes after a node: to another node, or to the end.
// The zero value is no transition.
type Transition struct {
	next string
	end  bool
}

// Next transitions to the node with the given id.
func Next(id string) Transition { return Transition{next: id} }

// End finishes the run.
func End() Transition { return Transition{end: true} }

// IsEnd reports a terminal transition.
func (t Transition) IsEnd() bool { return t.end }

// Target returns the next node id, empty for End.
func (t Transition) Target() string { return t.next }

// IsZero reports an unset transition.
func (t Transition) IsZero() bool { return !t.end && t.next == "" }

func (t Transition) String() string {
	switch {
	case t.end:
		return "end"
	case t.next == "":
		return "none"
	default:
		return "next(" + t.next + ")"
	}
}

// State is implemented by run states: each carries its own next transition.
type State interface {
	Transition() Transition
}

// Node is one step of the graph.
type Node[S State] interface {
	ID() string
	Run(ctx context.Context, state S) (S, error)
}

type funcNode[S State] struct {
	id string
	fn func(context.Context, S) (S, error)
}

func (f funcNode[S]) ID() string                                  { return f.id }
func (f funcNode[S]) Run(ctx context.Context, state S) (S, error) { return f.fn(ctx, state) }

// Func adapts a function to a Node.
func Func[S State](id string, fn func(ctx context.Context, state S) (S, error)) Node[S] {
	return funcNode[S]{id: id, fn: fn}
}

// Hop describes one executed node, for observers.
type Hop struct {
	Index    int
	Node     string
	Next     Transition
	Duration time.Duration
	Err      error
}

type options struct {
	tracer trace.Tracer
	onHop  func(Hop)
}

// Option configures a Graph.
type Option func(*options)

// WithTracerProvider traces runs with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer("agentcore/graph") }
}

// WithHopObserver calls fn after every node, successful or not.
func WithHopObserver(fn func(Hop)) Option {
	return func(o *options) { o.onHop = fn }
}

// Graph is a registry of nodes plus the driver loop. It is safe for
// concurrent Runs once all nodes are added.
type Graph[S State] struct {
	nodes   map[string]Node[S]
	maxHops int
	opts    options
	logger  *logx.Logger
}

// New creates an empty graph. maxHops bounds one Run.
func New[S State](maxHops int, opts ...Option) *Graph[S] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("agentcore/graph")
	}
	return &Graph[S]{
		nodes:   make(map[string]Node[S]),
		maxHops: maxHops,
		opts:    o,
		logger:  logx.NewLogger("graph"),
	}
}

// Add registers a node.
func (g *Graph[S]) Add(node Node[S]) error {
	id := node.ID()
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownNode)
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	g.nodes[id] = node
	return nil
}

// MustAdd registers nodes and panics on a duplicate id.
func (g *Graph[S]) MustAdd(nodes ...Node[S]) *Graph[S] {
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			panic(err)
		}
	}
	return g
}

// Has reports whether id is registered.
func (g *Graph[S]) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Run executes nodes starting at entry until one returns End. On error the
// last state produced before the failure is returned with it.
func (g *Graph[S]) Run(ctx context.Context, entry string, state S) (S, error) {
	ctx, span := g.opts.tracer.Start(ctx, "graph.Run",
		trace.WithAttributes(attribute.String("graph.entry", entry), attribute.Int("graph.max_hops", g.maxHops)))
	defer span.End()

	current := entry
	for hop := 0; ; hop++ {
		if hop >= g.maxHops {
			err := fmt.Errorf("%w: %d hops, next node %s", ErrMaxHops, g.maxHops, current)
			g.logger.Error("❌ %v", err)
			return state, g.fail(span, err)
		}
		if err := ctx.Err(); err != nil {
			return state, g.fail(span, err)
		}
		node, ok := g.nodes[current]
		if !ok {
			return state, g.fail(span, fmt.Errorf("%w: %s", ErrUnknownNode, current))
		}

		next, err := g.runNode(ctx, hop, node, state)
		if err != nil {
			return state, g.fail(span, fmt.Errorf("node %s: %w", current, err))
		}
		state = next

		t := state.Transition()
		switch {
		case t.IsEnd():
			span.SetAttributes(attribute.Int("graph.hops", hop+1))
			span.SetStatus(codes.Ok, "")
			return state, nil
		case t.IsZero():
			return state, g.fail(span, fmt.Errorf("%w: %s", ErrNoTransition, current))
		}
		current = t.Target()
	}
}

func (g *Graph[S]) runNode(ctx context.Context, hop int, node Node[S], state S) (S, error) {
	ctx, span := g.opts.tracer.Start(ctx, "graph.node",
		trace.WithAttributes(attribute.String("graph.node", node.ID()), attribute.Int("graph.hop", hop)))
	defer span.End()

	start := time.Now()
	next, err := node.Run(ctx, state)
	h := Hop{Index: hop, Node: node.ID(), Duration: time.Since(start), Err: err}
	if err == nil {
		h.Next = next.Transition()
		span.SetAttributes(attribute.String("graph.next", h.Next.String()))
		logx.Debug(ctx, "graph", "hop %d: %s -> %s (%.3gs)", hop, node.ID(), h.Next, h.Duration.Seconds())
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if g.opts.onHop != nil {
		g.opts.onHop(h)
	}
	return next, err
}

func (g *Graph[S]) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
