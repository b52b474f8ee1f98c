package bot

import (
	"strings"
	"testing"
	"time"

	"regime-engine/internal/domain"
	"regime-engine/internal/service"
)

func TestStartTelegramBotSkipsWithoutToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if h := StartTelegramBot(nil, nil, nil); h != nil {
		t.Fatal("expected nil flip handler when bot is disabled")
	}
}

func TestFormatSnapshot(t *testing.T) {
	s := &domain.RegimeSnapshot{
		Symbol:     "BTC",
		Interval:   "1h",
		ObservedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Regime:     domain.RegimeTrending,
		RegimeName: "trending",
		Confidence: 0.8,
		Agreement:  0.9,
		Probs:      [domain.NumRegimes]float64{0.7, 0.15, 0.1, 0.05},
	}
	got := formatSnapshot(s)
	for _, want := range []string{"BTC 1h: TRENDING", "Confidence: 80%", "Agreement: 90%", "0.70"} {
		if !strings.Contains(got, want) {
			t.Fatalf("formatted snapshot missing %q:\n%s", want, got)
		}
	}
}

func TestFormatSnapshotNil(t *testing.T) {
	if got := formatSnapshot(nil); got != "No classification available yet." {
		t.Fatalf("unexpected nil formatting: %q", got)
	}
}

func TestFormatMatrix(t *testing.T) {
	m := &service.TransitionMatrix{
		Symbol: "ETH",
		States: [domain.NumRegimes]string{"trending", "mean_reverting", "high_volatility", "transitional"},
		Mean: [][]float64{
			{0.7, 0.1, 0.1, 0.1},
			{0.1, 0.7, 0.1, 0.1},
			{0.1, 0.1, 0.7, 0.1},
			{0.1, 0.1, 0.1, 0.7},
		},
	}
	got := formatMatrix(m)
	if !strings.Contains(got, "ETH transition posterior") {
		t.Fatalf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "mean_reverting") {
		t.Fatalf("missing state label:\n%s", got)
	}
	if strings.Count(got, "0.70") != 4 {
		t.Fatalf("expected 4 diagonal entries:\n%s", got)
	}
}
