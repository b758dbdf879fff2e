// Package browser isolates web automation behind a two-method interface so
// the runtime, its tools, and its task processors never depend on a concrete
// browser. Deployments plug in a real automator; the Canned stub keeps the
// server fully operable without one.
package browser

import "context"

// Automator drives a web browser from natural-language instructions.
type Automator interface {
	// Browse performs the instructed navigation/interaction and returns the
	// extracted text.
	Browse(ctx context.Context, instructions string) (string, error)

	// Screenshot performs the instructed navigation and returns a PNG capture.
	Screenshot(ctx context.Context, instructions string) ([]byte, error)
}
