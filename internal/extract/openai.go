package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIExtractor implements Extractor against the OpenAI chat completion API
type OpenAIExtractor struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOpenAIExtractor creates a new OpenAI-backed extractor
func NewOpenAIExtractor(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration, logger *zap.Logger) *OpenAIExtractor {
	return &OpenAIExtractor{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		logger:      logger,
	}
}

// Extract calls the chat completion API with a bounded timeout. Provider
// failures come back inside the Result, never as a panic or error; the
// pipeline downgrades them to manual review.
func (e *OpenAIExtractor) Extract(ctx context.Context, subject, body string) *Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildExtractionPrompt(subject, body),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("OpenAI API call failed", zap.Error(err))
		return &Result{Err: fmt.Sprintf("extraction API call failed: %v", err)}
	}

	if len(resp.Choices) == 0 {
		return &Result{Err: "no response from extraction API"}
	}

	content := resp.Choices[0].Message.Content

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// Some models still fence the JSON despite the response format hint
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
				return clamp(&result)
			}
		}

		e.logger.Error("Failed to parse extraction response",
			zap.Error(err),
			zap.String("content", content))
		return &Result{Err: fmt.Sprintf("failed to parse extraction response: %v", err)}
	}

	e.logger.Info("Extraction completed",
		zap.Bool("has_sender", result.SenderName != nil),
		zap.Bool("has_amount", result.AmountCents != nil),
		zap.Bool("has_reference", result.ReferenceNumber != nil),
		zap.Float64("confidence", result.Confidence))

	return clamp(&result)
}

// clamp keeps confidence inside [0,1] whatever the model said
func clamp(r *Result) *Result {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	return r
}

// extractJSON pulls a JSON object out of a fenced markdown block
func extractJSON(content string) string {
	start := strings.Index(content, "```json")
	if start == -1 {
		start = strings.Index(content, "```")
		if start == -1 {
			return ""
		}
		start += 3
	} else {
		start += 7
	}

	end := strings.Index(content[start:], "```")
	if end == -1 {
		return ""
	}

	return strings.TrimSpace(content[start : start+end])
}
