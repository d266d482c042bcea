// Package llm defines the language model contract used by the translation and extraction stages.
package llm

import "context"

// Model completes a single free-form prompt.
type Model interface {
	// Complete returns the model's text answer. Failures wrap company.ErrModelService.
	Complete(ctx context.Context, prompt string) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Truncate returns the first n runes of s. A non-positive n returns s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
