package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nwalia/rentdesk/internal/extract"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

// Sample body mirrors a typical forwarded e-transfer notification.
const sampleBody = `You've received a payment!

John Smith sent you $950.00 (CAD) via INTERAC e-Transfer.
Reference Number: CAxyz123456
The money has been automatically deposited into your account.`

func main() {
	apiKey := flag.String("key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	model := flag.String("model", "gpt-4o-mini", "Model to use")
	subject := flag.String("subject", "INTERAC e-Transfer: John Smith sent you money", "Email subject to extract from")
	body := flag.String("body", sampleBody, "Email body to extract from")
	timeout := flag.Duration("timeout", 30*time.Second, "API call timeout")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	_ = gotenv.Load()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "ERROR: OPENAI_API_KEY not set and no --key flag provided\n")
		fmt.Fprintf(os.Stderr, "Usage: test-extraction --key sk-... [--model gpt-4o-mini] [--timeout 30s]\n")
		os.Exit(1)
	}

	fmt.Println("=== Payment Extraction Test ===")
	fmt.Println("Configuration:")
	fmt.Printf("  Model: %s\n", *model)
	fmt.Printf("  API key length: %d chars\n", len(*apiKey))
	if len(*apiKey) >= 4 {
		fmt.Printf("  API key prefix: %s...\n", (*apiKey)[:4])
	}
	fmt.Printf("  Timeout: %v\n", *timeout)
	fmt.Println()

	fmt.Println("Test Email:")
	fmt.Printf("  Subject: %s\n", *subject)
	fmt.Printf("  Body: %d chars\n", len(*body))
	fmt.Println()

	extractor := extract.NewOpenAIExtractor(*apiKey, *model, 0.1, 500, *timeout, logger)

	fmt.Println("Sending extraction request...")
	start := time.Now()
	result := extractor.Extract(context.Background(), *subject, *body)
	duration := time.Since(start)

	if result.Err != "" {
		fmt.Fprintf(os.Stderr, "❌ ERROR: extraction failed\n")
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", result.Err)
		fmt.Fprintf(os.Stderr, "Possible causes:\n")
		fmt.Fprintf(os.Stderr, "  1. Invalid or expired OPENAI_API_KEY\n")
		fmt.Fprintf(os.Stderr, "  2. Network connectivity issue\n")
		fmt.Fprintf(os.Stderr, "  3. API quota exceeded\n")
		fmt.Fprintf(os.Stderr, "  4. API service unavailable\n")
		os.Exit(1)
	}

	fmt.Println("✓ Received extraction response")
	fmt.Printf("API Response Time: %v\n", duration)
	fmt.Println()

	fmt.Println("=== Extraction Result ===")
	if result.SenderName != nil {
		fmt.Printf("Sender: %s\n", *result.SenderName)
	} else {
		fmt.Println("Sender: (not found)")
	}
	if result.AmountCents != nil {
		fmt.Printf("Amount: %d cents ($%.2f)\n", *result.AmountCents, float64(*result.AmountCents)/100)
	} else {
		fmt.Println("Amount: (not found)")
	}
	if result.ReferenceNumber != nil {
		fmt.Printf("Reference: %s\n", *result.ReferenceNumber)
	} else {
		fmt.Println("Reference: (not found)")
	}
	fmt.Printf("Confidence: %.2f (%.0f%%)\n", result.Confidence, result.Confidence*100)
	fmt.Printf("Accepted for reconciliation: %v\n", result.Accepted())

	fmt.Println("\n=== Full Response (JSON) ===")
	jsonBytes, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(jsonBytes))

	if result.Accepted() {
		fmt.Println("\n✅ Extraction Test PASSED!")
	} else {
		fmt.Println("\n⚠️  Extraction completed but would route to manual review")
	}
}
