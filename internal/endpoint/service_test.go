package endpoint

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
	"github.com/alexjbarnes/wikisync/internal/pagestore"
	"github.com/alexjbarnes/wikisync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *state.State
	local  *pagestore.Store
	remote *pagestore.Store
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)

	local, err := pagestore.New("local", filepath.Join(t.TempDir(), "local"), db, logger)
	require.NoError(t, err)

	remote, err := pagestore.New("remote", filepath.Join(t.TempDir(), "remote"), db, logger)
	require.NoError(t, err)

	ignore, err := docsync.NewIgnoreFilter(docsync.DefaultIgnorePatterns)
	require.NoError(t, err)

	svc := NewService(local, remote, db, ignore, logger)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	return &fixture{db: db, local: local, remote: remote, svc: svc}
}

func (f *fixture) write(t *testing.T, store *pagestore.Store, name, text string) {
	t.Helper()
	_, err := store.Write(name, text)
	require.NoError(t, err)
}

func (f *fixture) refreshAll(t *testing.T) map[string]docsync.Document {
	t.Helper()
	docs, err := f.svc.Execute(context.Background(), docsync.ActionRefresh, nil, "")
	require.NoError(t, err)
	return byName(docs)
}

func byName(docs []docsync.Document) map[string]docsync.Document {
	out := make(map[string]docsync.Document, len(docs))
	for _, d := range docs {
		out[d.Name] = d
	}
	return out
}

func one(t *testing.T, docs []docsync.Document) docsync.Document {
	t.Helper()
	require.Len(t, docs, 1)
	return docs[0]
}

// --- refresh all ---

func TestRefreshAll_ClassifiesBothSides(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "LocalOnly", "a")
	f.write(t, f.local, "Shared", "b")
	f.write(t, f.remote, "Shared", "b")
	f.write(t, f.remote, "RemoteOnly", "c")
	f.write(t, f.remote, "TracGuide", "d")
	f.write(t, f.remote, "WikiStart", "e")

	docs := f.refreshAll(t)
	require.Len(t, docs, 5)

	assert.Equal(t, docsync.StatusNew, docs["LocalOnly"].Status)
	assert.Equal(t, docsync.StatusConflict, docs["Shared"].Status, "never synced pages on both sides conflict")
	assert.Equal(t, docsync.StatusMissing, docs["RemoteOnly"].Status)
	assert.Equal(t, docsync.StatusIgnored, docs["TracGuide"].Status)
	assert.Equal(t, docsync.StatusMissing, docs["WikiStart"].Status, "WikiStart is exempt from the Wiki.* rule")

	assert.Equal(t, int64(1700000000), docs["RemoteOnly"].SyncTime)
}

func TestRefreshAll_IgnoreFilterOnlyForUnsyncedRecords(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PutRecord(state.Record{Name: "SandBox", SyncTime: 5}))
	require.NoError(t, f.db.PutRecord(state.Record{Name: "RecentChanges"}))
	f.write(t, f.remote, "SandBox", "x")
	f.write(t, f.remote, "RecentChanges", "y")

	docs := f.refreshAll(t)
	assert.False(t, docs["SandBox"].Ignore, "already synced records keep their flag")
	assert.True(t, docs["RecentChanges"].Ignore)
}

func TestRefreshAll_VanishedRemotePage(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Kept", "a")
	f.write(t, f.remote, "Kept", "a")
	f.write(t, f.remote, "Gone", "b")
	f.write(t, f.remote, "Anchor", "c")
	f.refreshAll(t)

	require.NoError(t, f.remote.Delete("Kept"))
	require.NoError(t, f.remote.Delete("Gone"))

	docs := f.refreshAll(t)
	_, exists := docs["Gone"]
	assert.False(t, exists, "record without either copy is dropped")

	kept := docs["Kept"]
	assert.Zero(t, kept.Remote)
	assert.Zero(t, kept.SyncRemote)
	assert.Equal(t, docsync.StatusNew, kept.Status)
}

func TestRefreshAll_EmptyRemoteKeepsRecords(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PutRecord(state.Record{Name: "Orphan", RemoteVersion: 3, SyncTime: 1}))

	docs := f.refreshAll(t)
	require.Contains(t, docs, "Orphan")
	assert.Equal(t, int64(3), docs["Orphan"].Remote)
}

// --- push / pull ---

func TestPush_CopiesLocalText(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "local text")
	f.refreshAll(t)

	doc := one(t, mustExecute(t, f, docsync.ActionPush, "Page"))
	assert.Equal(t, docsync.StatusSynced, doc.Status)
	assert.Equal(t, int64(1), doc.Remote)
	assert.Equal(t, doc.Remote, doc.SyncRemote)
	assert.Equal(t, doc.Local, doc.SyncLocal)

	page, err := f.remote.Read("Page")
	require.NoError(t, err)
	assert.Equal(t, "local text", page.Text)
}

func TestPull_CopiesRemoteText(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.remote, "Page", "v1")
	f.write(t, f.remote, "Page", "v2")
	f.refreshAll(t)

	doc := one(t, mustExecute(t, f, docsync.ActionPull, "Page"))
	assert.Equal(t, docsync.StatusSynced, doc.Status)
	assert.Equal(t, int64(2), doc.Remote)
	assert.Equal(t, int64(1), doc.Local)

	page, err := f.local.Read("Page")
	require.NoError(t, err)
	assert.Equal(t, "v2", page.Text)
}

func TestPush_MissingLocalPage(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.remote, "Page", "x")
	f.refreshAll(t)

	_, err := f.svc.Execute(context.Background(), docsync.ActionPush, []string{"Page"}, "")
	assert.ErrorContains(t, err, "cannot find local page")
}

func TestModifiedThenPush(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	f.write(t, f.remote, "Page", "a")
	f.refreshAll(t)
	mustExecute(t, f, docsync.ActionPull, "Page")

	f.write(t, f.local, "Page", "edited")

	docs, err := f.svc.Find(context.Background(), []string{"Page"})
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusModified, one(t, docs).Status)

	doc := one(t, mustExecute(t, f, docsync.ActionPush, "Page"))
	assert.Equal(t, docsync.StatusSynced, doc.Status)
}

func TestRecreatedPageIsConflict(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	f.write(t, f.local, "Page", "b")
	f.refreshAll(t)
	mustExecute(t, f, docsync.ActionPush, "Page")

	require.NoError(t, f.local.Delete("Page"))
	f.write(t, f.local, "Page", "fresh")

	docs, err := f.svc.Find(context.Background(), []string{"Page"})
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusConflict, one(t, docs).Status, "a local counter behind its sync counter is a conflict")
}

// --- refresh one ---

func TestRefresh_PicksUpRemoteEdit(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	f.write(t, f.remote, "Page", "a")
	f.refreshAll(t)
	mustExecute(t, f, docsync.ActionPull, "Page")

	f.write(t, f.remote, "Page", "remote edit")

	doc := one(t, mustExecute(t, f, docsync.ActionRefresh, "Page"))
	assert.Equal(t, docsync.StatusOutdated, doc.Status)
	assert.Equal(t, int64(2), doc.Remote)
}

func TestRefresh_RemoteGoneLeavesRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PutRecord(state.Record{Name: "Page", RemoteVersion: 4}))

	doc := one(t, mustExecute(t, f, docsync.ActionRefresh, "Page"))
	assert.Equal(t, int64(4), doc.Remote)
	assert.Zero(t, doc.SyncTime)
}

// --- resolve ---

func TestResolve_LocalAndRemote(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	f.write(t, f.remote, "Page", "b")
	f.refreshAll(t)

	docs, err := f.svc.Execute(context.Background(), docsync.ActionResolve, []string{"Page"}, docsync.ResolveLocal)
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusModified, one(t, docs).Status)

	require.NoError(t, f.db.PutRecord(state.Record{Name: "Page", SyncTime: 1, RemoteVersion: 1}))

	docs, err = f.svc.Execute(context.Background(), docsync.ActionResolve, []string{"Page"}, docsync.ResolveRemote)
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusOutdated, one(t, docs).Status)
}

func TestResolve_IgnoreBatch(t *testing.T) {
	f := newFixture(t)
	names := []string{"A", "B", "C"}
	for _, n := range names {
		require.NoError(t, f.db.PutRecord(state.Record{Name: n, SyncTime: 1}))
	}

	docs, err := f.svc.Execute(context.Background(), docsync.ActionResolve, names, docsync.ResolveIgnore)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, d := range docs {
		assert.Equal(t, docsync.StatusIgnored, d.Status)
	}

	docs, err = f.svc.Execute(context.Background(), docsync.ActionResolve, names[:1], docsync.ResolveUnignore)
	require.NoError(t, err)
	assert.False(t, one(t, docs).Ignore)
}

func TestResolve_UnsupportedStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PutRecord(state.Record{Name: "A"}))

	_, err := f.svc.Execute(context.Background(), docsync.ActionResolve, []string{"A"}, "merge")
	assert.ErrorIs(t, err, syncerr.ErrUnsupportedAction)
	assert.True(t, IsClientError(err))
}

// --- argument errors ---

func TestExecute_UnknownNames(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), docsync.ActionPush, []string{"Nope"}, "")
	assert.ErrorIs(t, err, syncerr.ErrDocumentNotFound)
}

func TestExecute_NoNames(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), docsync.ActionPush, nil, "")
	assert.ErrorIs(t, err, syncerr.ErrMissingDocumentArg)
}

func TestExecute_SkipsUnknownAndDuplicateNames(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PutRecord(state.Record{Name: "A"}))

	docs, err := f.svc.Execute(context.Background(), docsync.ActionResolve, []string{"A", "Nope", "A", ""}, docsync.ResolveIgnore)
	require.NoError(t, err)
	assert.Equal(t, "A", one(t, docs).Name)
}

func TestExecute_CancelledContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PutRecord(state.Record{Name: "A"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Execute(ctx, docsync.ActionResolve, []string{"A"}, docsync.ResolveIgnore)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- direct ---

func TestDirect_ImplementsRemote(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "text")
	f.refreshAll(t)

	d := NewDirect(f.svc)
	docs, err := d.Sync(context.Background(), "Page", docsync.ActionPush)
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusSynced, one(t, docs).Status)

	docs, err = d.Resolve(context.Background(), []string{"Page"}, docsync.ResolveIgnore)
	require.NoError(t, err)
	assert.True(t, one(t, docs).Ignore)
}

func mustExecute(t *testing.T, f *fixture, action docsync.Action, names ...string) []docsync.Document {
	t.Helper()
	docs, err := f.svc.Execute(context.Background(), action, names, "")
	require.NoError(t, err)
	return docs
}

func TestDirect_LoadAndRefreshAll(t *testing.T) {
	f := newFixture(t)
	d := NewDirect(f.svc)

	docs, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)

	f.write(t, f.remote, "Remote", "text")

	docs, err = d.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusMissing, one(t, docs).Status)

	docs, err = d.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
