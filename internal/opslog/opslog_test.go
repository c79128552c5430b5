package opslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/pkg/secrets"
)

func TestWriter_RecordConsolidationRunAppendsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	w, err := New(path, 0, secrets.RedactOptions{})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.RecordConsolidationRun("daily", "ok", map[string]int{"scored": 3}))

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "consolidation_run", entry.Kind)
	assert.Equal(t, "daily", entry.Detail["horizon"])
	assert.Equal(t, "ok", entry.Detail["status"])
}

func TestWriter_RecordHealthRepairAppendsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	w, err := New(path, 0, secrets.RedactOptions{})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.RecordHealthRepair(false, []string{"tag index drift"}, []string{"rebuilt tag index"}))

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "health_repair", entry.Kind)
	assert.Equal(t, false, entry.Detail["ok"])
}

func TestWriter_RotatesPastMaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	w, err := New(path, 64, secrets.RedactOptions{})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.RecordConsolidationRun("weekly", "ok", map[string]int{"sampled": i}))
	}

	dir := filepath.Dir(path)
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "expected at least one rotated file plus the active log")
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
