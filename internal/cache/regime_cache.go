package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"regime-engine/internal/domain"
)

// Latest-regime entries outlive one classify cycle but go stale before two,
// so a dead poller never serves old verdicts for long.
const regimeTTL = 90 * time.Minute

func regimeKey(symbol, interval string) string {
	return fmt.Sprintf("regime:latest:%s:%s", symbol, interval)
}

// SetLatestRegime caches the newest classification for fast reads by the
// HTTP handlers and the bot.
func SetLatestRegime(ctx context.Context, snapshot *domain.RegimeSnapshot) error {
	if Client == nil || snapshot == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return Client.Set(ctx, regimeKey(snapshot.Symbol, snapshot.Interval), payload, regimeTTL).Err()
}

// GetLatestRegime returns the cached classification, or nil on a miss.
func GetLatestRegime(ctx context.Context, symbol, interval string) (*domain.RegimeSnapshot, error) {
	if Client == nil {
		return nil, nil
	}
	payload, err := Client.Get(ctx, regimeKey(symbol, interval)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot domain.RegimeSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
