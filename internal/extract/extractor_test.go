package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func intPtr(n int64) *int64   { return &n }

func TestResult_Accepted(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{
			"all fields with high confidence",
			Result{SenderName: strPtr("John Smith"), AmountCents: intPtr(95000), Confidence: 0.9},
			true,
		},
		{
			"exactly at the confidence floor",
			Result{SenderName: strPtr("John Smith"), AmountCents: intPtr(95000), Confidence: 0.5},
			true,
		},
		{
			"reference number is optional",
			Result{SenderName: strPtr("John Smith"), AmountCents: intPtr(95000), ReferenceNumber: nil, Confidence: 0.8},
			true,
		},
		{
			"missing sender",
			Result{AmountCents: intPtr(95000), Confidence: 0.9},
			false,
		},
		{
			"missing amount",
			Result{SenderName: strPtr("John Smith"), Confidence: 0.9},
			false,
		},
		{
			"low confidence",
			Result{SenderName: strPtr("John Smith"), AmountCents: intPtr(95000), Confidence: 0.4},
			false,
		},
		{
			"provider error",
			Result{SenderName: strPtr("John Smith"), AmountCents: intPtr(95000), Confidence: 0.9, Err: "timeout"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Accepted())
		})
	}
}

func TestResult_MissingFields(t *testing.T) {
	assert.Equal(t, []string{"sender name", "amount"}, (&Result{}).MissingFields())
	assert.Equal(t, []string{"amount"}, (&Result{SenderName: strPtr("x")}).MissingFields())
	assert.Empty(t, (&Result{SenderName: strPtr("x"), AmountCents: intPtr(1)}).MissingFields())
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"json fence",
			"```json\n{\"confidence\": 0.8}\n```",
			`{"confidence": 0.8}`,
		},
		{
			"bare fence",
			"```\n{\"confidence\": 0.8}\n```",
			`{"confidence": 0.8}`,
		},
		{
			"prose around the fence",
			"Here you go:\n```json\n{\"a\":1}\n```\nDone.",
			`{"a":1}`,
		},
		{"no fence", `{"confidence": 0.8}`, ""},
		{"unclosed fence", "```json\n{\"a\":1}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.content))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(&Result{Confidence: -0.3}).Confidence)
	assert.Equal(t, 1.0, clamp(&Result{Confidence: 1.7}).Confidence)
	assert.Equal(t, 0.6, clamp(&Result{Confidence: 0.6}).Confidence)
}

func TestDisabled(t *testing.T) {
	result := Disabled{}.Extract(context.Background(), "subject", "body")
	assert.NotEmpty(t, result.Err)
	assert.False(t, result.Accepted())
}
