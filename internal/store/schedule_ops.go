package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// LastRun returns the last recorded run instant for horizon, and
// whether one has ever been recorded — the scheduler's missed-window
// catch-up check (spec §4.C11) reads this at startup.
func (s *Store) LastRun(ctx context.Context, horizon string) (time.Time, bool, error) {
	var us int64
	err := s.db.QueryRowContext(ctx, `SELECT last_run_us FROM schedule_state WHERE horizon = ?`, horizon).Scan(&us)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, memerr.Wrap(memerr.Corruption, err, "reading schedule state for %s", horizon)
	}
	return time.UnixMicro(us).UTC(), true, nil
}

// RecordRun upserts the last-run instant for horizon.
func (s *Store) RecordRun(ctx context.Context, horizon string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_state(horizon, last_run_us) VALUES (?, ?)
		ON CONFLICT(horizon) DO UPDATE SET last_run_us = excluded.last_run_us`,
		horizon, at.UTC().UnixMicro())
	if err != nil {
		return memerr.Wrap(memerr.Corruption, err, "recording schedule state for %s", horizon)
	}
	return nil
}
