// Package stages holds the generic pop-and-run chain that svrcore builds its
// policy pipeline on. A Stages value is consumed as it runs: each Next call
// removes the head stage and invokes it, so a stage resumes the remainder of
// the chain by calling Next again on the same value.
package stages

import (
	"context"
	"slices"
)

// Stage is one link in a chain: it receives the in-flight value and either
// produces the chain's result itself or forwards by calling Next.
type Stage[In, Out any] func(context.Context, In) Out

// Stages is the not-yet-run tail of a chain. Next mutates the receiver; share
// a chain between requests with Copy, never by handing out the slice.
type Stages[In, Out any] []Stage[In, Out]

// Next pops the head stage and runs it. Callers must ensure the chain is
// non-empty.
func (s *Stages[In, Out]) Next(ctx context.Context, in In) Out {
	head := (*s)[0]
	*s = (*s)[1:]
	return head(ctx, in)
}

// Copy returns an independent chain so the original can be reused.
func (s Stages[In, Out]) Copy() Stages[In, Out] {
	return slices.Clone(s)
}
