// Package embedclient implements the embedding collaborator contract
// (spec §6): given text, return a fixed-dimension float vector. Model
// loading and inference are out of scope for this module — the only
// implementation here is an HTTP client against a TEI-compatible
// embedding server, wrapped with a per-process LRU cache.
package embedclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// Embedder is the only interface the rest of the module depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures the HTTP embedding client.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimension  int
	CacheSize  int           // default 1000, per spec §5
	Timeout    time.Duration // default 10s
	Concurrent int           // default min(CPU,4), bounded worker pool
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Concurrent <= 0 {
		c.Concurrent = 4
	}
	return c
}

// HTTPEmbedder calls an external TEI-compatible /embed endpoint.
// Grounded on the teacher's internal/embeddings/service.go HTTP client.
type HTTPEmbedder struct {
	cfg    Config
	client *http.Client
	cache  *lru.Cache[string, []float32]
	sem    chan struct{}
}

// New builds an HTTPEmbedder. dimension, if > 0, is validated against
// every returned vector (spec's Embedding error: "wrong dimension").
func New(cfg Config) (*HTTPEmbedder, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, memerr.New(memerr.Invalid, "embedding base URL required")
	}
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, memerr.Wrap(memerr.Invalid, err, "creating embedding cache")
	}
	return &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		sem:    make(chan struct{}, cfg.Concurrent),
	}, nil
}

type teiRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

// Embed returns the embedding for text, serving from the LRU cache
// when possible. Cache key is sha256(text) per spec §5.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, memerr.New(memerr.Invalid, "text must not be empty")
	}
	key := cacheKey(text)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, memerr.Wrap(memerr.Cancelled, ctx.Err(), "waiting for embedding worker slot")
	}

	vec, err := e.call(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.cfg.Dimension > 0 && len(vec) != e.cfg.Dimension {
		return nil, memerr.New(memerr.Embedding, "embedder returned dimension %d, want %d", len(vec), e.cfg.Dimension)
	}
	e.cache.Add(key, vec)
	return vec, nil
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, memerr.Wrap(memerr.Invalid, err, "marshaling embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, memerr.Wrap(memerr.Invalid, err, "building embed request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, memerr.Wrap(memerr.Cancelled, err, "embed request cancelled")
		}
		return nil, memerr.Wrap(memerr.Retryable, err, "embedder unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := memerr.Embedding
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
			kind = memerr.Retryable
		}
		return nil, memerr.New(kind, "embedder returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, memerr.Wrap(memerr.Embedding, err, "decoding embed response")
	}
	if len(vectors) == 0 {
		return nil, memerr.New(memerr.Embedding, "embedder returned no vectors")
	}
	return vectors[0], nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
