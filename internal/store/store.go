// Package store implements the embedded vector+metadata store (spec
// §4.C3): a single SQLite database file holding memory rows and their
// embeddings, a tag inverted index (§4.C4), and a process-local ANN
// cache rebuilt from the embeddings table on open.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/memoryd/internal/changebus"
	"github.com/fyrsmithlabs/memoryd/internal/embedclient"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Config configures the store engine.
type Config struct {
	Path             string // e.g. "memory.db"
	Dimension        int    // D, must match the embedder
	MaxTagLen        int
	MaxTagsPerMemory int
	BusyTimeoutMS    int
	IncludeHostname  bool
}

func (c Config) withDefaults() Config {
	if c.MaxTagLen <= 0 {
		c.MaxTagLen = memory.MaxTagLen
	}
	if c.MaxTagsPerMemory <= 0 {
		c.MaxTagsPerMemory = memory.MaxTagsPerRow
	}
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = 5000
	}
	return c
}

// Store is the embedded vector+metadata store engine.
type Store struct {
	cfg      Config
	db       *sql.DB
	embedder embedclient.Embedder
	bus      *changebus.Bus
	ann      *ann
	watcher  *fsnotify.Watcher

	writeMu sync.Mutex // at most one writer at a time, per spec §5
}

// Open opens (creating if absent) the database at cfg.Path, enables
// WAL mode, and rebuilds the in-process ANN index from the embeddings
// table.
func Open(ctx context.Context, cfg Config, embedder embedclient.Embedder, bus *changebus.Bus) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "opening database %s", cfg.Path)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, memerr.Wrap(memerr.Corruption, err, "applying %q", p)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, memerr.Wrap(memerr.Corruption, err, "applying schema")
	}

	s := &Store{cfg: cfg, db: db, embedder: embedder, bus: bus, ann: newANN()}

	if err := s.rebuildANN(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.watchWAL()

	return s, nil
}

// Close releases the database handle and the WAL watcher.
func (s *Store) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.db.Close()
}

// Dimension returns the configured vector dimension D.
func (s *Store) Dimension() int { return s.cfg.Dimension }

func (s *Store) rebuildANN(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.row_id, e.vector, m.updated_at_us
		FROM embeddings e JOIN memories m ON m.row_id = e.row_id`)
	if err != nil {
		return memerr.Wrap(memerr.Corruption, err, "loading embeddings")
	}
	defer rows.Close()

	s.ann.reset()
	for rows.Next() {
		var rowID int64
		var blob []byte
		var updatedAt int64
		if err := rows.Scan(&rowID, &blob, &updatedAt); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "scanning embedding row")
		}
		vec, err := decodeVector(blob)
		if err != nil {
			continue // malformed row; health check will flag and repair it
		}
		s.ann.upsert(rowID, vec, updatedAt)
	}
	return rows.Err()
}

// watchWAL invalidates the in-process ANN cache when another process
// appends to the WAL file, per spec §5 ("invalidated on detected
// external writes"). Best-effort: if the watcher can't be created
// (e.g. unsupported filesystem), the store still works, just without
// cross-process cache invalidation.
func (s *Store) watchWAL() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	walPath := s.cfg.Path + "-wal"
	_ = w.Add(walPath)
	s.watcher = w

	go func() {
		lastSize := walFileSize(walPath)
		for event := range w.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if size := walFileSize(walPath); size != lastSize {
				lastSize = size
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_ = s.rebuildANN(ctx)
				cancel()
			}
		}
	}()
}

func walFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
