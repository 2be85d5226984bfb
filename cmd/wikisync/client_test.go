package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/alexjbarnes/wikisync/internal/config"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/endpoint"
	"github.com/alexjbarnes/wikisync/internal/pagestore"
	"github.com/alexjbarnes/wikisync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEndpoint struct {
	local  *pagestore.Store
	remote *pagestore.Store
	cfg    *config.Config
}

// newTestEndpoint serves an endpoint over two temp page stores and returns
// a client config pointing at it.
func newTestEndpoint(t *testing.T) *testEndpoint {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	db, err := state.LoadAt(filepath.Join(t.TempDir(), state.ServerFile))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	local, err := pagestore.New("local", filepath.Join(t.TempDir(), "local"), db, logger)
	require.NoError(t, err)

	remote, err := pagestore.New("remote", filepath.Join(t.TempDir(), "remote"), db, logger)
	require.NoError(t, err)

	tokens := auth.NewStore()
	t.Cleanup(tokens.Stop)

	svc := endpoint.NewService(local, remote, db, nil, logger)
	srv := httptest.NewServer(endpoint.NewHandler(svc, tokens, logger))
	t.Cleanup(srv.Close)

	return &testEndpoint{
		local:  local,
		remote: remote,
		cfg: &config.Config{
			Endpoint:      srv.URL + "/wikisync",
			ClientStateDB: filepath.Join(t.TempDir(), state.ClientFile),
			BatchSize:     docsync.DefaultBatchSize,
			Timeout:       5 * time.Second,
		},
	}
}

func TestClientSession_RefreshAndSync(t *testing.T) {
	te := newTestEndpoint(t)
	ctx := context.Background()

	_, err := te.local.Write("LocalPage", "from local")
	require.NoError(t, err)
	_, err = te.remote.Write("RemotePage", "from remote")
	require.NoError(t, err)

	cs, err := openClientSession(ctx, te.cfg, slog.New(slog.DiscardHandler), nil)
	require.NoError(t, err)
	defer cs.Close()

	assert.Equal(t, 0, cs.Docs().Len())

	require.NoError(t, cs.Refresh(ctx))
	counts := cs.Docs().Counts()
	assert.Equal(t, 1, counts[docsync.StatusNew])
	assert.Equal(t, 1, counts[docsync.StatusMissing])

	rep, err := cs.Sync(ctx, docsync.Filter{})
	require.NoError(t, err)
	assert.Equal(t, docsync.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 2, rep.Processed)

	page, err := te.remote.Read("LocalPage")
	require.NoError(t, err)
	assert.Equal(t, "from local", page.Text)

	page, err = te.local.Read("RemotePage")
	require.NoError(t, err)
	assert.Equal(t, "from remote", page.Text)

	assert.Equal(t, 2, cs.Docs().Counts()[docsync.StatusSynced])
}

func TestClientSession_CachesFormToken(t *testing.T) {
	te := newTestEndpoint(t)
	ctx := context.Background()

	cs, err := openClientSession(ctx, te.cfg, slog.New(slog.DiscardHandler), nil)
	require.NoError(t, err)

	token := cs.client.FormToken()
	require.NotEmpty(t, token)
	cs.Close()

	st, err := state.LoadAt(te.cfg.ClientStateDB)
	require.NoError(t, err)
	assert.Equal(t, token, st.FormToken())
	require.NoError(t, st.Close())
}

func TestClientSession_RecordsRun(t *testing.T) {
	te := newTestEndpoint(t)
	ctx := context.Background()

	_, err := te.local.Write("WikiStart", "hello")
	require.NoError(t, err)

	cs, err := openClientSession(ctx, te.cfg, slog.New(slog.DiscardHandler), nil)
	require.NoError(t, err)

	require.NoError(t, cs.Refresh(ctx))
	_, err = cs.Sync(ctx, docsync.Filter{})
	require.NoError(t, err)
	cs.Close()

	st, err := state.LoadAt(te.cfg.ClientStateDB)
	require.NoError(t, err)
	defer st.Close()

	rep, err := st.LastRunReport()
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, docsync.RunSync, rep.Kind)

	snap, err := st.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "WikiStart", snap[0].Name)
}

func TestClientSession_BadEndpoint(t *testing.T) {
	cfg := &config.Config{
		Endpoint:      "://nope",
		ClientStateDB: filepath.Join(t.TempDir(), state.ClientFile),
	}

	_, err := openClientSession(context.Background(), cfg, slog.New(slog.DiscardHandler), nil)
	assert.Error(t, err)
}
