package extract

import "context"

// Result is the structured view of one e-transfer notification body. Fields
// are nil when the provider could not find them; Err carries any provider
// failure (timeout, quota, malformed response) instead of a Go error so the
// pipeline can route the record to review rather than abort.
type Result struct {
	SenderName      *string `json:"sender_name"`
	AmountCents     *int64  `json:"amount_cents"`
	ReferenceNumber *string `json:"reference_number"`
	Confidence      float64 `json:"confidence"`
	Err             string  `json:"error,omitempty"`
}

// MinConfidence is the acceptance floor for an extraction.
const MinConfidence = 0.5

// Accepted reports whether the extraction is usable for automatic
// reconciliation: sender and amount present, confidence at or above the
// floor. MissingFields names what blocked acceptance for the review note.
func (r *Result) Accepted() bool {
	return r.Err == "" && r.SenderName != nil && r.AmountCents != nil && r.Confidence >= MinConfidence
}

// MissingFields lists which required fields are absent.
func (r *Result) MissingFields() []string {
	var missing []string
	if r.SenderName == nil {
		missing = append(missing, "sender name")
	}
	if r.AmountCents == nil {
		missing = append(missing, "amount")
	}
	return missing
}

// Extractor pulls payment fields out of a notification email. Implementations
// must never return an error for provider failures; those are reported inside
// the Result so the caller always gets a routable outcome.
type Extractor interface {
	Extract(ctx context.Context, subject, body string) *Result
}
