package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httpx "github.com/shortontech/gomatomo/internal/http"
	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/sink"
	"github.com/shortontech/gomatomo/internal/tracker"
	"github.com/shortontech/gomatomo/internal/transport"
	"github.com/shortontech/gomatomo/pkg/config"
)

var testmodeBulk bool

var testmodeCmd = &cobra.Command{
	Use:   "testmode",
	Short: "Send sample tracking requests through the configured transport and sinks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return testMode(cmd.Context(), cfg, testmodeBulk)
	},
}

// testMode sends the samples through the configured transport and sinks.
// Without a Matomo URL they only reach the sinks.
func testMode(ctx context.Context, cfg config.Config, bulk bool) error {
	sinks := initializeSinks(ctx, cfg.Outputs)
	defer sink.CloseAll(sinks)

	tr, err := buildTransport(cfg, sinks, nil)
	if err != nil {
		return err
	}
	if tr == nil {
		log.Println("TEST MODE: no Matomo URL, requests go to the sinks only")
		tr = sink.NewTee(discardTransport{}, sinks, nil)
	}
	return runTestMode(ctx, cfg, tr, bulk)
}

func init() {
	testmodeCmd.Flags().BoolVar(&testmodeBulk, "bulk", false, "send the samples as one bulk request")
}

// discardTransport accepts every request without sending it.
type discardTransport struct{}

func (discardTransport) Send(ctx context.Context, p params.Params) (*transport.Response, error) {
	return &transport.Response{StatusCode: http.StatusNoContent}, nil
}

func (discardTransport) SendBulk(ctx context.Context, batch []params.Params, authToken string) (*transport.Response, error) {
	return &transport.Response{StatusCode: http.StatusNoContent}, nil
}

// generateTestIntents creates sample tracking intents covering the common
// request kinds.
func generateTestIntents() []httpx.Intent {
	return []httpx.Intent{
		{
			Type:     httpx.IntentPageView,
			URL:      "https://example.com/home?mtm_campaign=search&mtm_kwd=shoes",
			Referrer: "https://google.com",
			Title:    "Home Page",
			Width:    1920,
			Height:   1080,
		},
		{
			Type:     httpx.IntentEvent,
			URL:      "https://example.com/signup",
			Category: "signup",
			Action:   "click",
			Name:     "cta-button",
			Width:    375,
			Height:   812,
		},
		{
			Type:    httpx.IntentGoal,
			URL:     "https://example.com/checkout/success",
			GoalID:  1,
			Revenue: tracker.Float(99.99),
			UserID:  "user-42",
		},
		{
			Type:     httpx.IntentOrder,
			URL:      "https://example.com/checkout/success",
			OrderID:  "TEST-1",
			Total:    99.99,
			Tax:      8.5,
			Shipping: 4.99,
			Items: []httpx.Item{
				{SKU: "SKU-1", Name: "Running Shoes", Categories: []string{"Shoes"}, Price: 86.5, Quantity: 1},
			},
		},
		{
			Type:       httpx.IntentEvent,
			URL:        "https://example.com/dashboard",
			Category:   "dashboard",
			Action:     "view",
			Dimensions: map[int]string{1: "beta"},
		},
	}
}

// runTestMode sends the sample intents with a synthetic request context.
func runTestMode(ctx context.Context, cfg config.Config, tr transport.Transport, bulk bool) error {
	log.Println("TEST MODE: generating test requests...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com/home?mtm_campaign=search", nil)
	if err != nil {
		return fmt.Errorf("failed to build test request: %w", err)
	}
	req.RemoteAddr = "127.0.0.1:0"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept-Language", "en-US")
	t := tracker.New(cfg.Matomo.SiteID, tracker.FromRequest(req, false), tracker.WithTransport(tr))
	if bulk {
		t.EnableBulkTracking()
	}

	intents := generateTestIntents()
	for i, in := range intents {
		res, err := in.Apply(ctx, t)
		if err != nil {
			return fmt.Errorf("test request %d (%s): %w", i+1, in.Type, err)
		}
		log.Printf("TEST MODE: %d/%d %s %s", i+1, len(intents), params.Action(res.Params), res.Params.String(params.URL))
		t = res.Tracker

		if !bulk && i < len(intents)-1 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	if bulk {
		if _, err := t.DoBulkTrack(ctx, cfg.Matomo.AuthToken); err != nil {
			return err
		}
	}

	log.Println("TEST MODE: all test requests sent")
	return nil
}
