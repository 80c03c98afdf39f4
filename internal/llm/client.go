// Package llm wraps the external language-model provider behind a minimal
// completion interface. The provider is the one unbounded-latency,
// non-deterministic collaborator in the system; everything above this package
// treats its output as untrusted text.
package llm

import "context"

// Params tunes a single completion request.
type Params struct {
	Temperature *float32
	MaxTokens   *int
	Stop        []string
}

// Client produces a text completion for a prompt. Implementations must honor
// ctx cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, system, prompt string, params Params) (string, error)
}
