package rc

import (
	"sync/atomic"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/rc/counter"
)

// defaultAtomic selects the counting strategy for handles created without
// WithAtomicCounts/WithPlainCounts.
var defaultAtomic atomic.Bool

type options struct {
	allocator alloc.Allocator
	mode      counter.Mode
}

// Option configures handle construction.
type Option func(*options)

// WithAllocator places the control block (and, for Make, the element) in
// storage obtained from a.
func WithAllocator(a alloc.Allocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

// WithAtomicCounts makes the new control block safe to share across
// goroutines: counts are updated atomically and Weak.Lock upgrades with CAS.
func WithAtomicCounts() Option {
	return func(o *options) {
		o.mode = counter.Atomic
	}
}

// WithPlainCounts selects unsynchronized counts even when the process
// default is atomic.
func WithPlainCounts() Option {
	return func(o *options) {
		o.mode = counter.Plain
	}
}

func buildOptions(opts []Option) options {
	o := options{allocator: alloc.Default, mode: counter.Plain}
	if defaultAtomic.Load() {
		o.mode = counter.Atomic
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.allocator == nil {
		o.allocator = alloc.Default
	}
	return o
}
