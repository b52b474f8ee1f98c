package repository

import (
	"context"
	"errors"
	"time"

	"regime-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createRegimeTables = `
CREATE TABLE IF NOT EXISTS regime_snapshots (
    id             BIGSERIAL   PRIMARY KEY,
    symbol         TEXT        NOT NULL,
    interval       TEXT        NOT NULL,
    observed_at    TIMESTAMPTZ NOT NULL,
    regime         INT         NOT NULL,
    regime_name    TEXT        NOT NULL,
    probs          DOUBLE PRECISION[] NOT NULL,
    raw_confidence DOUBLE PRECISION NOT NULL,
    confidence     DOUBLE PRECISION NOT NULL,
    agreement      DOUBLE PRECISION NOT NULL,
    details_json   TEXT        NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    resolved_at    TIMESTAMPTZ,
    actual_regime  INT,
    is_correct     BOOLEAN,
    UNIQUE (symbol, interval, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_regime_snapshots_symbol_time
    ON regime_snapshots (symbol, interval, observed_at DESC);

CREATE INDEX IF NOT EXISTS idx_regime_snapshots_unresolved
    ON regime_snapshots (observed_at) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS regime_model_state (
    symbol     TEXT        NOT NULL,
    model_name TEXT        NOT NULL,
    state      BYTEA       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (symbol, model_name)
);
`

const snapshotColumns = `id, symbol, interval, observed_at, regime, regime_name, probs,
       raw_confidence, confidence, agreement, details_json,
       created_at, resolved_at, actual_regime, is_correct`

type RegimeRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRegimeRepository(pool PgxPool, tracer trace.Tracer) *RegimeRepository {
	return &RegimeRepository{pool: pool, tracer: tracer}
}

func (r *RegimeRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "regime-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createRegimeTables)
	return err
}

// InsertSnapshot persists one classification and returns it with the
// generated id. A repeat classification for the same (symbol, interval,
// observed_at) overwrites the previous one.
func (r *RegimeRepository) InsertSnapshot(ctx context.Context, s *domain.RegimeSnapshot) (*domain.RegimeSnapshot, error) {
	_, span := r.tracer.Start(ctx, "regime-repo.insert-snapshot")
	defer span.End()

	if s == nil || s.Symbol == "" || !s.Regime.Valid() {
		return nil, errors.New("invalid regime snapshot payload")
	}
	details := s.DetailsJSON
	if details == "" {
		details = "{}"
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO regime_snapshots (
    symbol, interval, observed_at, regime, regime_name, probs,
    raw_confidence, confidence, agreement, details_json
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (symbol, interval, observed_at) DO UPDATE SET
    regime = EXCLUDED.regime,
    regime_name = EXCLUDED.regime_name,
    probs = EXCLUDED.probs,
    raw_confidence = EXCLUDED.raw_confidence,
    confidence = EXCLUDED.confidence,
    agreement = EXCLUDED.agreement,
    details_json = EXCLUDED.details_json
RETURNING `+snapshotColumns,
		s.Symbol, s.Interval, s.ObservedAt.UTC(), int(s.Regime), s.Regime.String(),
		s.Probs[:], s.RawConfidence, s.Confidence, s.Agreement, details,
	)
	return scanSnapshot(row)
}

// LatestSnapshot returns the newest classification for a symbol, or nil when
// none exists.
func (r *RegimeRepository) LatestSnapshot(ctx context.Context, symbol, interval string) (*domain.RegimeSnapshot, error) {
	_, span := r.tracer.Start(ctx, "regime-repo.latest-snapshot")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
SELECT `+snapshotColumns+`
FROM regime_snapshots
WHERE symbol = $1 AND interval = $2
ORDER BY observed_at DESC
LIMIT 1`, symbol, interval)
	out, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return out, err
}

// ListSnapshots returns up to limit classifications for a symbol,
// newest-first.
func (r *RegimeRepository) ListSnapshots(ctx context.Context, symbol, interval string, limit int) ([]*domain.RegimeSnapshot, error) {
	_, span := r.tracer.Start(ctx, "regime-repo.list-snapshots")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT `+snapshotColumns+`
FROM regime_snapshots
WHERE symbol = $1 AND interval = $2
ORDER BY observed_at DESC
LIMIT $3`, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// ListUnresolved returns snapshots observed before the cutoff that have not
// been resolved against a realized regime yet.
func (r *RegimeRepository) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]*domain.RegimeSnapshot, error) {
	_, span := r.tracer.Start(ctx, "regime-repo.list-unresolved")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT `+snapshotColumns+`
FROM regime_snapshots
WHERE resolved_at IS NULL AND observed_at < $1
ORDER BY observed_at ASC
LIMIT $2`, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// ResolveSnapshot records the realized regime for a snapshot.
func (r *RegimeRepository) ResolveSnapshot(ctx context.Context, id int64, actual domain.Regime, isCorrect bool) error {
	_, span := r.tracer.Start(ctx, "regime-repo.resolve-snapshot")
	defer span.End()

	if !actual.Valid() {
		return errors.New("invalid realized regime")
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE regime_snapshots
SET resolved_at = NOW(), actual_regime = $2, is_correct = $3
WHERE id = $1 AND resolved_at IS NULL`, id, int(actual), isCorrect)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SaveModelState upserts a serialized model artifact (calibrator bins,
// Dirichlet concentrations, boosted trees) keyed by symbol and model name.
func (r *RegimeRepository) SaveModelState(ctx context.Context, symbol, modelName string, state []byte) error {
	_, span := r.tracer.Start(ctx, "regime-repo.save-model-state")
	defer span.End()

	_, err := r.pool.Exec(ctx, `
INSERT INTO regime_model_state (symbol, model_name, state, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (symbol, model_name) DO UPDATE SET
    state = EXCLUDED.state,
    updated_at = NOW()`, symbol, modelName, state)
	return err
}

// LoadModelState returns the stored artifact, or nil when none exists.
func (r *RegimeRepository) LoadModelState(ctx context.Context, symbol, modelName string) ([]byte, error) {
	_, span := r.tracer.Start(ctx, "regime-repo.load-model-state")
	defer span.End()

	var state []byte
	err := r.pool.QueryRow(ctx,
		`SELECT state FROM regime_model_state WHERE symbol = $1 AND model_name = $2`,
		symbol, modelName,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func collectSnapshots(rows pgx.Rows) ([]*domain.RegimeSnapshot, error) {
	var out []*domain.RegimeSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (*domain.RegimeSnapshot, error) {
	var s domain.RegimeSnapshot
	var regime int
	var probs []float64
	var actual *int
	err := row.Scan(
		&s.ID, &s.Symbol, &s.Interval, &s.ObservedAt, &regime, &s.RegimeName, &probs,
		&s.RawConfidence, &s.Confidence, &s.Agreement, &s.DetailsJSON,
		&s.CreatedAt, &s.ResolvedAt, &actual, &s.IsCorrect,
	)
	if err != nil {
		return nil, err
	}
	s.Regime = domain.Regime(regime)
	copy(s.Probs[:], probs)
	if actual != nil {
		a := domain.Regime(*actual)
		s.ActualRegime = &a
	}
	s.ObservedAt = s.ObservedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if s.ResolvedAt != nil {
		t := s.ResolvedAt.UTC()
		s.ResolvedAt = &t
	}
	return &s, nil
}
