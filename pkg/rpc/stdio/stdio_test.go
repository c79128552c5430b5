package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/query"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/pkg/rpc"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 1}, nil
}

func newTestDispatcher(t *testing.T) *rpc.Dispatcher {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{
		Path:      filepath.Join(dir, "memory.db"),
		Dimension: 3,
	}, stubEmbedder{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return rpc.New(s, query.New(s, stubEmbedder{}, 0), nil, nil)
}

func TestServer_RunProcessesRequestLines(t *testing.T) {
	d := newTestDispatcher(t)

	storeParams, err := json.Marshal(rpc.StoreParams{Content: "line-delimited store"})
	require.NoError(t, err)
	reqLine, err := json.Marshal(rpc.Request{ID: "1", Op: rpc.OpStore, Params: storeParams})
	require.NoError(t, err)

	in := bytes.NewBuffer(append(reqLine, '\n'))
	var out bytes.Buffer

	srv := New(d, in, &out, nil)
	require.NoError(t, srv.Run(context.Background()))

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.Equal(t, "1", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestServer_MalformedLineDoesNotAbortLoop(t *testing.T) {
	d := newTestDispatcher(t)

	storeParams, err := json.Marshal(rpc.StoreParams{Content: "valid after garbage"})
	require.NoError(t, err)
	validLine, err := json.Marshal(rpc.Request{ID: "2", Op: rpc.OpStore, Params: storeParams})
	require.NoError(t, err)

	in := bytes.NewBufferString("{not json}\n")
	in.Write(append(validLine, '\n'))
	var out bytes.Buffer

	srv := New(d, in, &out, nil)
	require.NoError(t, srv.Run(context.Background()))

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	var first rpc.Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &first))
	require.NotNil(t, first.Error)

	require.True(t, scanner.Scan())
	var second rpc.Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &second))
	assert.Equal(t, "2", second.ID)
	assert.Nil(t, second.Error)
}
