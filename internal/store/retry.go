package store

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// busyBackoff is the retry schedule for SQLITE_BUSY per spec §4.C3.
var busyBackoff = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn, retrying on SQLITE_BUSY with the fixed
// backoff schedule, surfacing Retryable once attempts are exhausted.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(busyBackoff); attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyErr(lastErr) {
			return lastErr
		}
		if attempt == len(busyBackoff) {
			break
		}
		select {
		case <-ctx.Done():
			return memerr.Wrap(memerr.Cancelled, ctx.Err(), "cancelled during busy retry")
		case <-time.After(busyBackoff[attempt]):
		}
	}
	return memerr.Wrap(memerr.Retryable, lastErr, "database busy after %d attempts", len(busyBackoff)+1)
}
