package query

import (
	"time"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// contextCheckInterval is how many visited nodes pass between ctx checks.
const contextCheckInterval = 256

// Options configures a traversal.
type Options struct {
	// EdgeTypes restricts traversal to these edge types. Empty follows all.
	EdgeTypes map[entity.EdgeType]bool

	// IncludeTests follows TEST entities. By default they are neither
	// traversed nor reported.
	IncludeTests bool

	// MaxNodes bounds the number of reported nodes (0 = unbounded).
	MaxNodes int

	// Timeout bounds the traversal (0 = ctx deadline only). Hitting it
	// truncates the result instead of failing.
	Timeout time.Duration
}

// Option is a functional option for configuring queries.
type Option func(*Options)

// WithEdgeTypes follows only the given edge types.
func WithEdgeTypes(types ...entity.EdgeType) Option {
	return func(o *Options) {
		if len(types) == 0 {
			return
		}
		o.EdgeTypes = make(map[entity.EdgeType]bool, len(types))
		for _, t := range types {
			o.EdgeTypes[t] = true
		}
	}
}

// IncludeTests makes TEST entities visible to the traversal.
func IncludeTests() Option {
	return func(o *Options) { o.IncludeTests = true }
}

// WithMaxNodes sets the maximum number of reported nodes. n <= 0 removes
// the bound.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		if n < 0 {
			n = 0
		}
		o.MaxNodes = n
	}
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func applyOptions(base Options, opts []Option) Options {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
