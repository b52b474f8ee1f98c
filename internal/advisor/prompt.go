package advisor

import (
	"fmt"
	"strings"
	"time"

	"regime-engine/internal/domain"
)

const tradingPhilosophy = `You are a market-regime analyst bot. Your role is to interpret probabilistic regime classifications and market data, NOT to generate trade signals yourself.

Regime Framework:
- trending: sustained directional movement, in either direction. Momentum strategies tend to work.
- mean_reverting: price oscillates around a level. Fading extremes tends to work.
- high_volatility: large erratic swings. Position sizes should shrink regardless of direction.
- transitional: the market is between regimes. The least certain state; expect the classification to change soon.

Rules:
- Always reference the classification's confidence and model agreement when interpreting it.
- A high regime probability with low confidence means the models disagree; say so.
- Never fabricate data. If data is unavailable, say so.
- Keep responses concise and actionable. You are talking via Telegram.
- Do not provide financial advice disclaimers on every message. The user understands this is informational.
- When asked about an asset, summarize: current price, current regime, confidence, and your interpretation.
- If no classification exists for an asset yet, say so honestly rather than speculating.`

func BuildSystemPrompt(marketContext string) string {
	var sb strings.Builder
	sb.WriteString(tradingPhilosophy)
	sb.WriteString("\n\n--- LIVE MARKET DATA (as of ")
	sb.WriteString(time.Now().UTC().Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(marketContext)
	return sb.String()
}

func FormatMarketContext(prices []*domain.PriceSnapshot, regimes []*domain.RegimeSnapshot) string {
	var sb strings.Builder

	if len(prices) > 0 {
		sb.WriteString("\nCurrent Prices:\n")
		for _, p := range prices {
			sb.WriteString(fmt.Sprintf("  %s: $%.2f (24h: %+.2f%%, vol: $%.0f)\n",
				p.Symbol, p.PriceUSD, p.Change24hPct, p.Volume24h))
		}
	}

	if len(regimes) > 0 {
		sb.WriteString("\nCurrent Regimes:\n")
		for _, r := range regimes {
			sb.WriteString(fmt.Sprintf("  %s %s: %s (confidence %.0f%%, agreement %.0f%%, probs T/MR/HV/TR %.2f/%.2f/%.2f/%.2f)\n",
				r.Symbol, r.Interval, strings.ToUpper(r.RegimeName),
				r.Confidence*100, r.Agreement*100,
				r.Probs[domain.RegimeTrending], r.Probs[domain.RegimeMeanReverting],
				r.Probs[domain.RegimeHighVolatility], r.Probs[domain.RegimeTransitional]))
		}
	}

	if sb.Len() == 0 {
		return "No market data currently available."
	}
	return sb.String()
}
