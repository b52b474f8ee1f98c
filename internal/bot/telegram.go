package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"regime-engine/internal/advisor"
	"regime-engine/internal/domain"
	"regime-engine/internal/service"

	tele "gopkg.in/telebot.v3"
)

// StartTelegramBot wires the bot commands and returns a flip handler that
// pushes regime-change notifications to TELEGRAM_CHAT_ID. Returns nil when
// the bot is not configured.
func StartTelegramBot(priceService *service.PriceService, regimeService *service.RegimeService, advisorService *advisor.AdvisorService) service.FlipHandler {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/price", func(c tele.Context) error {
		symbol, err := symbolArg(c, "/price BTC")
		if err != nil {
			return c.Send(err.Error())
		}
		snapshot, err := priceService.GetCurrentPrice(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching price for %s: %v", symbol, err))
		}
		msg := fmt.Sprintf(
			"%s\nPrice: $%.2f\n24h Change: %.2f%%\n24h Volume: $%.0f",
			symbol, snapshot.PriceUSD, snapshot.Change24hPct, snapshot.Volume24h,
		)
		return c.Send(msg)
	})

	b.Handle("/regime", func(c tele.Context) error {
		symbol, err := symbolArg(c, "/regime BTC")
		if err != nil {
			return c.Send(err.Error())
		}
		snapshot, err := regimeService.CurrentRegime(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error classifying %s: %v", symbol, err))
		}
		return c.Send(formatSnapshot(snapshot))
	})

	b.Handle("/matrix", func(c tele.Context) error {
		symbol, err := symbolArg(c, "/matrix BTC")
		if err != nil {
			return c.Send(err.Error())
		}
		matrix, err := regimeService.TransitionPosterior(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error loading transition matrix for %s: %v", symbol, err))
		}
		return c.Send(formatMatrix(matrix))
	})

	b.Handle("/ask", func(c tele.Context) error {
		if advisorService == nil {
			return c.Send("The advisor is disabled. Set OPENAI_API_KEY to enable it.")
		}
		question := strings.TrimSpace(c.Message().Payload)
		if question == "" {
			return c.Send("Usage: /ask what regime is BTC in?")
		}
		reply, err := advisorService.Ask(context.Background(), c.Chat().ID, question)
		if err != nil {
			return c.Send(fmt.Sprintf("Advisor error: %v", err))
		}
		return c.Send(reply)
	})

	log.Println("Telegram bot started")
	go b.Start()

	return flipNotifier(b)
}

func symbolArg(c tele.Context, usage string) (string, error) {
	args := c.Args()
	if len(args) == 0 {
		return "", fmt.Errorf("Usage: %s\nSupported: %s", usage, strings.Join(domain.SupportedSymbols, ", "))
	}
	symbol := strings.ToUpper(args[0])
	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return "", fmt.Errorf("Unknown symbol: %s\nSupported: %s", symbol, strings.Join(domain.SupportedSymbols, ", "))
	}
	return symbol, nil
}

func formatSnapshot(s *domain.RegimeSnapshot) string {
	if s == nil {
		return "No classification available yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %s\n", s.Symbol, s.Interval, strings.ToUpper(s.RegimeName))
	fmt.Fprintf(&sb, "Confidence: %.0f%%  Agreement: %.0f%%\n", s.Confidence*100, s.Agreement*100)
	fmt.Fprintf(&sb, "P(trend/revert/vol/trans): %.2f / %.2f / %.2f / %.2f\n",
		s.Probs[domain.RegimeTrending], s.Probs[domain.RegimeMeanReverting],
		s.Probs[domain.RegimeHighVolatility], s.Probs[domain.RegimeTransitional])
	fmt.Fprintf(&sb, "As of %s", s.ObservedAt.UTC().Format("2006-01-02 15:04 MST"))
	return sb.String()
}

func formatMatrix(m *service.TransitionMatrix) string {
	if m == nil {
		return "No transition estimate available yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s transition posterior (mean):\n", m.Symbol)
	for i, row := range m.Mean {
		fmt.Fprintf(&sb, "%-12s", m.States[i])
		for _, p := range row {
			fmt.Fprintf(&sb, " %.2f", p)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// flipNotifier sends a message to the configured chat whenever the dominant
// regime for a symbol changes between consecutive snapshots.
func flipNotifier(b *tele.Bot) service.FlipHandler {
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		log.Println("TELEGRAM_CHAT_ID not set, regime flip notifications disabled")
		return nil
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid TELEGRAM_CHAT_ID %q: %v", chatIDStr, err)
		return nil
	}
	recipient := &tele.Chat{ID: chatID}

	return func(current, previous *domain.RegimeSnapshot) {
		if current == nil || previous == nil {
			return
		}
		msg := fmt.Sprintf(
			"Regime flip: %s %s\n%s -> %s (confidence %.0f%%)",
			current.Symbol, current.Interval,
			strings.ToUpper(previous.RegimeName), strings.ToUpper(current.RegimeName),
			current.Confidence*100,
		)
		if _, err := b.Send(recipient, msg); err != nil {
			log.Printf("failed to send regime flip notification: %v", err)
		}
	}
}
