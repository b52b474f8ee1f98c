package advisor

import (
	"strings"
	"testing"
	"time"

	"regime-engine/internal/domain"
)

func TestBuildSystemPromptContainsPhilosophy(t *testing.T) {
	prompt := BuildSystemPrompt("some context")
	if !strings.Contains(prompt, "market-regime analyst") {
		t.Fatal("expected analyst role in prompt")
	}
	if !strings.Contains(prompt, "Regime Framework") {
		t.Fatal("expected regime framework in prompt")
	}
	if !strings.Contains(prompt, "LIVE MARKET DATA") {
		t.Fatal("expected market data header in prompt")
	}
	if !strings.Contains(prompt, "some context") {
		t.Fatal("expected market context in prompt")
	}
}

func TestFormatMarketContextWithPricesAndRegimes(t *testing.T) {
	prices := []*domain.PriceSnapshot{
		{Symbol: "BTC", PriceUSD: 50000, Change24hPct: 2.5, Volume24h: 1e9},
	}
	regimes := []*domain.RegimeSnapshot{
		{
			Symbol:     "BTC",
			Interval:   "1h",
			ObservedAt: time.Now(),
			Regime:     domain.RegimeTrending,
			RegimeName: "trending",
			Confidence: 0.82,
			Agreement:  0.91,
			Probs:      [domain.NumRegimes]float64{0.70, 0.15, 0.10, 0.05},
		},
	}

	ctx := FormatMarketContext(prices, regimes)
	if !strings.Contains(ctx, "BTC: $50000.00") {
		t.Fatal("expected BTC price in context")
	}
	if !strings.Contains(ctx, "TRENDING") {
		t.Fatal("expected regime name in context")
	}
	if !strings.Contains(ctx, "confidence 82%") {
		t.Fatal("expected confidence in context")
	}
	if !strings.Contains(ctx, "agreement 91%") {
		t.Fatal("expected agreement in context")
	}
	if !strings.Contains(ctx, "0.70") {
		t.Fatal("expected probability vector in context")
	}
}

func TestFormatMarketContextEmpty(t *testing.T) {
	ctx := FormatMarketContext(nil, nil)
	if ctx != "No market data currently available." {
		t.Fatalf("expected fallback text, got: %s", ctx)
	}
}

func TestFormatMarketContextPricesOnly(t *testing.T) {
	prices := []*domain.PriceSnapshot{
		{Symbol: "ETH", PriceUSD: 3000, Change24hPct: -1.2, Volume24h: 5e8},
	}
	ctx := FormatMarketContext(prices, nil)
	if !strings.Contains(ctx, "ETH: $3000.00") {
		t.Fatal("expected ETH price")
	}
	if strings.Contains(ctx, "Current Regimes") {
		t.Fatal("should not contain regime section when no regimes")
	}
}
