package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/query"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/pkg/rpc"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 1}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{
		Path:      filepath.Join(dir, "memory.db"),
		Dimension: 3,
	}, stubEmbedder{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dispatcher := rpc.New(s, query.New(s, stubEmbedder{}, 0), nil, nil)
	return NewServer(config.ServerConfig{HTTPAddr: ":0", ShutdownTimeout: time.Second}, "memoryd-test", dispatcher)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var hr HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hr))
	assert.Equal(t, "ok", hr.Status)
	assert.Equal(t, "memoryd-test", hr.Service)
}

func TestServer_RPCStore(t *testing.T) {
	srv := newTestServer(t)

	params, err := json.Marshal(rpc.StoreParams{Content: "http transport store"})
	require.NoError(t, err)
	body, err := json.Marshal(rpc.Request{ID: "1", Op: rpc.OpStore, Params: params})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, "1", resp.ID)
}

func TestServer_RPCMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}
