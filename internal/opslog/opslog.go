// Package opslog implements the append-only operations log (spec
// §6's persisted state: "one operations log file recording
// consolidation runs and health repairs, bounded by size-based
// rotation"), gitleaks-scrubbed before anything touches disk.
package opslog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memoryd/pkg/secrets"
)

const defaultMaxBytes = 10 * 1024 * 1024

// Entry is one line of the ops log.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"` // "consolidation_run" or "health_repair"
	Detail    map[string]any `json:"detail"`
}

// Writer appends Entry values as line-delimited JSON, rotating the
// file once it exceeds maxBytes.
type Writer struct {
	mu        sync.Mutex
	path      string
	maxBytes  int64
	file      *os.File
	scrubOpts secrets.RedactOptions
}

// New opens (creating if absent) the ops log at path. scrubOpts
// configures the gitleaks allowlist paths used to scrub every entry's
// string fields before they're written; a zero value is valid (no
// project/user allowlist, default gitleaks ruleset only). maxBytes <=
// 0 uses defaultMaxBytes.
func New(path string, maxBytes int64, scrubOpts secrets.RedactOptions) (*Writer, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	w := &Writer{path: path, maxBytes: maxBytes, scrubOpts: scrubOpts}
	if err := w.openAppend(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openAppend() error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("opslog: creating directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opslog: opening %s: %w", w.path, err)
	}
	w.file = f
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// RecordConsolidationRun appends a consolidation pass outcome.
func (w *Writer) RecordConsolidationRun(horizon, status string, counts map[string]int) error {
	detail := map[string]any{"horizon": horizon, "status": status}
	for k, v := range counts {
		detail[k] = v
	}
	return w.write("consolidation_run", detail)
}

// RecordHealthRepair appends a health-check report.
func (w *Writer) RecordHealthRepair(ok bool, issues, actionsTaken []string) error {
	detail := map[string]any{
		"ok":            ok,
		"issues":        toAnySlice(issues),
		"actions_taken": toAnySlice(actionsTaken),
	}
	return w.write("health_repair", detail)
}

func (w *Writer) write(kind string, detail map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Detail:    scrubValue(detail, w.scrubOpts).(map[string]any),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("opslog: marshaling entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("opslog: writing entry: %w", err)
	}

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("opslog: stat for rotation check: %w", err)
	}
	if info.Size() >= w.maxBytes {
		return w.rotate()
	}
	return nil
}

// rotate renames the current file aside (atomic on the same
// filesystem) and opens a fresh one, so a reader tailing the active
// path never observes a truncated write.
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("opslog: closing before rotation: %w", err)
	}
	rotated := fmt.Sprintf("%s.%d", w.path, time.Now().UTC().UnixNano())
	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("opslog: renaming for rotation: %w", err)
	}
	return w.openAppend()
}

// scrubValue recursively redacts secrets out of every string found in
// v, leaving structure and non-string values untouched.
func scrubValue(v any, opts secrets.RedactOptions) any {
	switch t := v.(type) {
	case string:
		result, err := secrets.Redact(t, opts)
		if err != nil {
			return t
		}
		return result.Content
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = scrubValue(val, opts)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = scrubValue(val, opts)
		}
		return out
	default:
		return v
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
