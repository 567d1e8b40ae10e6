package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nwalia/rentdesk/internal/config"
	"github.com/nwalia/rentdesk/internal/notify"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

// Isolated test for Communication Center delivery. Sends one sample
// payment-received notice to the configured endpoints (or an endpoint given
// on the command line) without touching the database or the pipeline.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	endpoints := flag.String("endpoints", "", "Comma-separated endpoint URLs (overrides config)")
	flag.Parse()

	fmt.Println("=== Communication Center Notification Test ===")
	fmt.Println()

	_ = gotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg := notify.Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}

	if *endpoints != "" {
		cfg.Endpoints = strings.Split(*endpoints, ",")
	} else {
		appCfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg.Endpoints = appCfg.Notify.Endpoints
		cfg.Timeout = appCfg.Notify.Timeout
		cfg.MaxAttempts = appCfg.Notify.MaxAttempts
		cfg.BaseDelay = appCfg.Notify.BaseDelay
	}

	if len(cfg.Endpoints) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: no notification endpoints configured")
		fmt.Fprintln(os.Stderr, "Usage: test-notification --endpoints http://localhost:9090/notify")
		os.Exit(1)
	}

	fmt.Println("Endpoints:")
	for _, e := range cfg.Endpoints {
		fmt.Printf("  %s\n", e)
	}
	fmt.Printf("Max attempts: %d, base delay: %v\n\n", cfg.MaxAttempts, cfg.BaseDelay)

	notice := notify.Notice{
		TenantName:    "Test Tenant",
		TenantEmail:   "tenant@example.com",
		BuildingName:  "Maple Court",
		UnitLabel:     "Unit 2B",
		PeriodMonth:   time.Now().Format("2006-01"),
		AmountCents:   95000,
		PaymentMethod: "e_transfer",
	}

	fmt.Println("Sending sample notice...")
	start := time.Now()
	notify.New(cfg, logger).PaymentReceived(context.Background(), notice)
	fmt.Printf("\nDone in %v. Check the endpoint logs above for per-attempt results.\n", time.Since(start))
}
