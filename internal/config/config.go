package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	TelegramBotToken  string
	DatabaseURL       string
	RedisURL          string
	CoinGeckoPollSecs int
	APIKey            string

	OpenAIAPIKey      string
	OpenAIModel       string
	AdvisorMaxHistory int

	RegimeEnabled          bool
	RegimeInterval         string
	RegimeClassifySecs     int
	RegimeRefreshHourUTC   int
	RegimeResolvePollSecs  int
	RegimeResolveLagHours  int
	RegimeHistoryBars      int
	RegimeSmoothingWindow  int
	RegimeSmoothingAlpha   float64
	RegimePriorStrength    float64
	RegimeCalibrationBins  int
	RegimeCalibrationMin   int
	RegimeCalibrationBlend float64
	RegimeCalibrationDecay float64
	RegimeAnomalyThreshold float64
	RegimeBoostEnabled     bool
	RegimeMinTrainSamples  int
	RegimeModelWeights     map[string]float64
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		APIKey:           os.Getenv("API_KEY"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.CoinGeckoPollSecs = 60
	if v := os.Getenv("COINGECKO_POLL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CoinGeckoPollSecs = n
		}
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, advisor will be disabled")
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.AdvisorMaxHistory = 20
	if v := os.Getenv("ADVISOR_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AdvisorMaxHistory = n
		}
	}

	cfg.RegimeEnabled = true
	if v := strings.TrimSpace(os.Getenv("REGIME_ENABLED")); v != "" {
		cfg.RegimeEnabled = strings.EqualFold(v, "true")
	}

	cfg.RegimeInterval = strings.TrimSpace(os.Getenv("REGIME_INTERVAL"))
	if cfg.RegimeInterval == "" {
		cfg.RegimeInterval = "1h"
	}

	cfg.RegimeClassifySecs = 3600
	if v := strings.TrimSpace(os.Getenv("REGIME_CLASSIFY_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeClassifySecs = n
		}
	}

	cfg.RegimeRefreshHourUTC = 0
	if v := strings.TrimSpace(os.Getenv("REGIME_REFRESH_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.RegimeRefreshHourUTC = n
		}
	}

	cfg.RegimeResolvePollSecs = 1800
	if v := strings.TrimSpace(os.Getenv("REGIME_RESOLVE_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeResolvePollSecs = n
		}
	}

	cfg.RegimeResolveLagHours = 24
	if v := strings.TrimSpace(os.Getenv("REGIME_RESOLVE_LAG_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeResolveLagHours = n
		}
	}

	cfg.RegimeHistoryBars = 336
	if v := strings.TrimSpace(os.Getenv("REGIME_HISTORY_BARS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeHistoryBars = n
		}
	}

	cfg.RegimeSmoothingWindow = 10
	if v := strings.TrimSpace(os.Getenv("REGIME_SMOOTHING_WINDOW")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeSmoothingWindow = n
		}
	}

	cfg.RegimeSmoothingAlpha = 0.3
	if v := strings.TrimSpace(os.Getenv("REGIME_SMOOTHING_ALPHA")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 1 {
			cfg.RegimeSmoothingAlpha = n
		}
	}

	cfg.RegimePriorStrength = 10.0
	if v := strings.TrimSpace(os.Getenv("REGIME_PRIOR_STRENGTH")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.RegimePriorStrength = n
		}
	}

	cfg.RegimeCalibrationBins = 10
	if v := strings.TrimSpace(os.Getenv("REGIME_CALIBRATION_BINS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeCalibrationBins = n
		}
	}

	cfg.RegimeCalibrationMin = 10
	if v := strings.TrimSpace(os.Getenv("REGIME_CALIBRATION_MIN_SAMPLES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeCalibrationMin = n
		}
	}

	cfg.RegimeCalibrationBlend = 0.5
	if v := strings.TrimSpace(os.Getenv("REGIME_CALIBRATION_BLEND")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.RegimeCalibrationBlend = n
		}
	}

	cfg.RegimeCalibrationDecay = 1.0
	if v := strings.TrimSpace(os.Getenv("REGIME_CALIBRATION_DECAY")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n <= 1 {
			cfg.RegimeCalibrationDecay = n
		}
	}

	cfg.RegimeAnomalyThreshold = 0.65
	if v := strings.TrimSpace(os.Getenv("REGIME_ANOMALY_THRESHOLD")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n < 1 {
			cfg.RegimeAnomalyThreshold = n
		}
	}

	cfg.RegimeBoostEnabled = true
	if v := strings.TrimSpace(os.Getenv("REGIME_BOOST_ENABLED")); v != "" {
		cfg.RegimeBoostEnabled = strings.EqualFold(v, "true")
	}

	cfg.RegimeMinTrainSamples = 200
	if v := strings.TrimSpace(os.Getenv("REGIME_MIN_TRAIN_SAMPLES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegimeMinTrainSamples = n
		}
	}

	cfg.RegimeModelWeights = parseModelWeights(os.Getenv("REGIME_MODEL_WEIGHTS"))

	return cfg
}

// parseModelWeights reads "fuzzy=1.0,hmm_filter=1.5,boost=0.8". Malformed
// entries are skipped with a warning rather than failing startup.
func parseModelWeights(raw string) map[string]float64 {
	weights := map[string]float64{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			log.Printf("Warning: skipping malformed model weight %q", pair)
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || w <= 0 {
			log.Printf("Warning: skipping model weight %q: must be a positive number", pair)
			continue
		}
		weights[strings.TrimSpace(name)] = w
	}
	return weights
}
