package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Database on a local SQLite file. A mutex serializes
// writes: the scheduler is the only writer, but API handlers read
// concurrently and SQLite only tolerates one writer at a time.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			confidence REAL NOT NULL,
			price_percentile INTEGER NOT NULL,
			next_review_hour INTEGER,
			factors TEXT,
			applied INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts)`,
		`CREATE TABLE IF NOT EXISTS hourly_stats (
			ts_hour_start TIMESTAMP PRIMARY KEY,
			soc REAL NOT NULL,
			price REAL NOT NULL,
			solar_watts REAL NOT NULL,
			load_watts REAL NOT NULL,
			action TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS load_states (
			device_id TEXT PRIMARY KEY,
			is_shed INTEGER NOT NULL,
			shed_since TIMESTAMP,
			shed_reason TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// InsertDecision persists one decision record.
func (s *SQLite) InsertDecision(ctx context.Context, d types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	var review sql.NullInt64
	if d.NextReviewHour != nil {
		review = sql.NullInt64{Int64: int64(*d.NextReviewHour), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, ts, action, reason, confidence, price_percentile, next_review_hour, factors, applied, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp.UTC(), string(d.Action), d.Reason, d.Confidence, d.PricePercentile, review, string(factors), d.Applied, d.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func scanDecision(row interface {
	Scan(dest ...any) error
}) (types.Decision, error) {
	var d types.Decision
	var action, factors string
	var review sql.NullInt64
	if err := row.Scan(&d.ID, &d.Timestamp, &action, &d.Reason, &d.Confidence, &d.PricePercentile, &review, &factors, &d.Applied, &d.Error); err != nil {
		return types.Decision{}, err
	}
	d.Action = types.BatteryAction(action)
	if review.Valid {
		h := int(review.Int64)
		d.NextReviewHour = &h
	}
	if factors != "" {
		if err := json.Unmarshal([]byte(factors), &d.Factors); err != nil {
			return types.Decision{}, fmt.Errorf("failed to unmarshal factors: %w", err)
		}
	}
	return d, nil
}

// GetLastDecision returns the most recent decision, if any.
func (s *SQLite) GetLastDecision(ctx context.Context) (types.Decision, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, action, reason, confidence, price_percentile, next_review_hour, factors, applied, error
		FROM decisions ORDER BY ts DESC LIMIT 1`)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return types.Decision{}, false, nil
	}
	if err != nil {
		return types.Decision{}, false, fmt.Errorf("failed to query last decision: %w", err)
	}
	return d, true, nil
}

// GetDecisionHistory returns decisions in [start, end) ordered by time.
func (s *SQLite) GetDecisionHistory(ctx context.Context, start, end time.Time) ([]types.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, reason, confidence, price_percentile, next_review_hour, factors, applied, error
		FROM decisions WHERE ts >= ? AND ts < ? ORDER BY ts`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertHourlyStat upserts the stat snapshot for its hour.
func (s *SQLite) InsertHourlyStat(ctx context.Context, stat types.HourlyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_stats (ts_hour_start, soc, price, solar_watts, load_watts, action)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts_hour_start) DO UPDATE SET
			soc = excluded.soc,
			price = excluded.price,
			solar_watts = excluded.solar_watts,
			load_watts = excluded.load_watts,
			action = excluded.action`,
		stat.TSHourStart.UTC(), stat.SOC, stat.Price, stat.SolarWatts, stat.LoadWatts, string(stat.Action),
	)
	if err != nil {
		return fmt.Errorf("failed to insert hourly stat: %w", err)
	}
	return nil
}

// GetHourlyStats returns stats in [start, end) ordered by hour.
func (s *SQLite) GetHourlyStats(ctx context.Context, start, end time.Time) ([]types.HourlyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_hour_start, soc, price, solar_watts, load_watts, action
		FROM hourly_stats WHERE ts_hour_start >= ? AND ts_hour_start < ? ORDER BY ts_hour_start`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly stats: %w", err)
	}
	defer rows.Close()

	var out []types.HourlyStat
	for rows.Next() {
		var st types.HourlyStat
		var action string
		if err := rows.Scan(&st.TSHourStart, &st.SOC, &st.Price, &st.SolarWatts, &st.LoadWatts, &action); err != nil {
			return nil, fmt.Errorf("failed to scan hourly stat: %w", err)
		}
		st.Action = types.BatteryAction(action)
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkLoadShed records a device as shed, creating the row on first shed.
func (s *SQLite) MarkLoadShed(ctx context.Context, deviceID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_states (device_id, is_shed, shed_since, shed_reason)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			is_shed = 1,
			shed_since = excluded.shed_since,
			shed_reason = excluded.shed_reason`,
		deviceID, at.UTC(), reason,
	)
	if err != nil {
		return fmt.Errorf("failed to mark load shed: %w", err)
	}
	return nil
}

// MarkLoadRestored clears a device's shed state.
func (s *SQLite) MarkLoadRestored(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE load_states SET is_shed = 0, shed_since = NULL, shed_reason = '' WHERE device_id = ?`,
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark load restored: %w", err)
	}
	return nil
}

// GetLoadStates returns the shed state for every known device.
func (s *SQLite) GetLoadStates(ctx context.Context) (map[string]types.LoadState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, is_shed, shed_since, shed_reason FROM load_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to query load states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.LoadState)
	for rows.Next() {
		var st types.LoadState
		var since sql.NullTime
		if err := rows.Scan(&st.DeviceID, &st.IsShed, &since, &st.ShedReason); err != nil {
			return nil, fmt.Errorf("failed to scan load state: %w", err)
		}
		if since.Valid {
			st.ShedSince = since.Time
		}
		out[st.DeviceID] = st
	}
	return out, rows.Err()
}

// GetShedDuration returns how long a device has been shed as of now.
// A device that is not shed (or unknown) has duration 0.
func (s *SQLite) GetShedDuration(ctx context.Context, deviceID string, now time.Time) (time.Duration, error) {
	states, err := s.GetLoadStates(ctx)
	if err != nil {
		return 0, err
	}
	st, ok := states[deviceID]
	if !ok {
		return 0, nil
	}
	return st.ShedDuration(now), nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
