package extract

import "context"

// Disabled is the extractor used when no provider key is configured. Every
// intake routes to manual review, which keeps the pipeline correct when the
// dependency is entirely unavailable.
type Disabled struct{}

// Extract always reports the provider as unconfigured
func (Disabled) Extract(ctx context.Context, subject, body string) *Result {
	return &Result{Err: "extraction provider not configured"}
}
