package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/endpoint"
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
	sess   *Session
	events []docsync.Event
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

	svc := endpoint.NewService(local, remote, db, nil, logger)

	f := &fixture{db: db, local: local, remote: remote}
	f.sess = New(endpoint.NewDirect(svc), logger, Options{
		BatchSize: docsync.DefaultBatchSize,
		Recorder:  db,
		Observer:  docsync.ObserverFunc(func(e docsync.Event) { f.events = append(f.events, e) }),
	})

	return f
}

func (f *fixture) write(t *testing.T, store *pagestore.Store, name, text string) {
	t.Helper()
	_, err := store.Write(name, text)
	require.NoError(t, err)
}

func (f *fixture) doc(t *testing.T, name string) *docsync.Document {
	t.Helper()
	d, ok := f.sess.Docs().Get(name)
	require.True(t, ok, "document %s not in collection", name)
	return d
}

// --- Load / Refresh ---

func TestLoad_EmptyEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sess.Load(context.Background()))
	assert.Equal(t, 0, f.sess.Docs().Len())
}

func TestRefresh_PicksUpBothStores(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "LocalPage", "a")
	f.write(t, f.remote, "RemotePage", "b")

	require.NoError(t, f.sess.Refresh(context.Background()))

	assert.Equal(t, docsync.StatusNew, f.doc(t, "LocalPage").Status)
	assert.Equal(t, docsync.StatusMissing, f.doc(t, "RemotePage").Status)

	require.NoError(t, f.sess.Load(context.Background()))
	assert.Equal(t, 2, f.sess.Docs().Len())
}

func TestRefresh_KeepsResolveChoice(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	f.write(t, f.remote, "Page", "b")
	require.NoError(t, f.sess.Refresh(context.Background()))
	require.Equal(t, docsync.StatusConflict, f.doc(t, "Page").Status)

	require.NoError(t, f.sess.SetResolve("Page", docsync.ResolveTakeLocal))
	require.NoError(t, f.sess.Refresh(context.Background()))

	assert.Equal(t, docsync.ResolveTakeLocal, f.doc(t, "Page").Resolve)
}

func TestLoad_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.write(t, f.local, "Page", "a")
	err := f.sess.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Sync ---

func TestSync_PushesAndPullsThenRecords(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "LocalPage", "local text")
	f.write(t, f.remote, "RemotePage", "remote text")
	require.NoError(t, f.sess.Refresh(context.Background()))

	rep, err := f.sess.Sync(context.Background(), docsync.Filter{})
	require.NoError(t, err)
	assert.Equal(t, docsync.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 2, rep.Processed)

	assert.Equal(t, docsync.StatusSynced, f.doc(t, "LocalPage").Status)
	assert.Equal(t, docsync.StatusSynced, f.doc(t, "RemotePage").Status)

	page, err := f.remote.Read("LocalPage")
	require.NoError(t, err)
	assert.Equal(t, "local text", page.Text)

	page, err = f.local.Read("RemotePage")
	require.NoError(t, err)
	assert.Equal(t, "remote text", page.Text)

	last, err := f.db.LastRunReport()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, rep.RunID, last.RunID)

	snap, err := f.db.LoadSnapshot()
	require.NoError(t, err)
	assert.Len(t, snap, 2)
}

func TestSync_FilterLimitsQueue(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Alpha", "a")
	f.write(t, f.local, "Beta", "b")
	f.write(t, f.remote, "Other", "c")
	require.NoError(t, f.sess.Refresh(context.Background()))

	rep, err := f.sess.Sync(context.Background(), docsync.Filter{Name: "alp"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total)

	assert.Equal(t, docsync.StatusSynced, f.doc(t, "Alpha").Status)
	assert.Equal(t, docsync.StatusNew, f.doc(t, "Beta").Status)
}

func TestSync_QueueFollowsTreeOrder(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"A", "A B", "A0", "AB", "A_C"} {
		f.write(t, f.local, name, "x")
	}
	f.write(t, f.remote, "Zz", "y")
	require.NoError(t, f.sess.Refresh(context.Background()))

	filter := docsync.Filter{Statuses: []docsync.Status{docsync.StatusNew}}

	var treeOrder []string
	docsync.Walk(f.sess.Tree(filter), func(n *docsync.Node, _ int) {
		if n.Doc != nil {
			treeOrder = append(treeOrder, n.Doc.Name)
		}
	})
	require.Len(t, treeOrder, 5)

	var nameOrder []string
	for _, d := range f.sess.Select(filter) {
		nameOrder = append(nameOrder, d.Name)
	}
	require.NotEqual(t, nameOrder, treeOrder, "grouping must reorder these names")

	f.events = nil
	rep, err := f.sess.Sync(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Processed)

	var requested []string
	for _, e := range f.events {
		if e.Kind == docsync.EventProgress {
			requested = append(requested, e.Name)
		}
	}

	assert.Equal(t, treeOrder, requested)
}

func TestSync_DeferredConflictUntilGlobalOverride(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "mine")
	f.write(t, f.remote, "Page", "theirs")
	require.NoError(t, f.sess.Refresh(context.Background()))

	rep, err := f.sess.Sync(context.Background(), docsync.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, docsync.StatusConflict, f.doc(t, "Page").Status)

	f.sess.SetGlobalResolve(docsync.ResolveTakeRemote)
	assert.ErrorIs(t, f.sess.SetResolve("Page", docsync.ResolveTakeLocal), syncerr.ErrResolutionLocked)

	_, err = f.sess.Sync(context.Background(), docsync.Filter{})
	require.NoError(t, err)
	assert.Equal(t, docsync.StatusSynced, f.doc(t, "Page").Status)

	page, err := f.local.Read("Page")
	require.NoError(t, err)
	assert.Equal(t, "theirs", page.Text)

	f.sess.SetGlobalResolve("")
	assert.NoError(t, f.sess.SetResolve("Page", docsync.ResolveTakeLocal))
}

func TestStartSync_WaitReturnsReport(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	require.NoError(t, f.sess.Refresh(context.Background()))

	runID, err := f.sess.StartSync(context.Background(), docsync.Filter{})
	require.NoError(t, err)

	rep := f.sess.Orchestrator().Wait()
	require.NotNil(t, rep)
	assert.Equal(t, runID, rep.RunID)
	assert.Equal(t, docsync.OutcomeCompleted, rep.Outcome)

	require.Eventually(t, func() bool {
		last, err := f.db.LastRunReport()
		return err == nil && last != nil && last.RunID == runID
	}, 2*time.Second, 10*time.Millisecond)
}

// --- Ignore ---

func TestIgnore_SkipsDocumentsAlreadyMatching(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "A", "a")
	f.write(t, f.local, "B", "b")
	f.write(t, f.remote, "R", "r")
	require.NoError(t, f.sess.Refresh(context.Background()))

	rep, err := f.sess.Ignore(context.Background(), []string{"A"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, docsync.StatusIgnored, f.doc(t, "A").Status)

	rep, err = f.sess.Ignore(context.Background(), []string{"A", "B"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total, "A is already ignored")

	sel := f.sess.IgnoreSelection(docsync.Filter{}, false)
	assert.Len(t, sel, 2)

	rep, err = f.sess.IgnoreDocs(context.Background(), sel, false)
	require.NoError(t, err)
	assert.Equal(t, docsync.RunUnignore, rep.Kind)
	assert.Equal(t, docsync.StatusNew, f.doc(t, "A").Status)
}

func TestIgnore_UnknownName(t *testing.T) {
	f := newFixture(t)
	_, err := f.sess.Ignore(context.Background(), []string{"Ghost"}, true)
	assert.ErrorIs(t, err, syncerr.ErrDocumentNotFound)
}

// --- Events ---

func TestObserverSeesCollectionAndRunEvents(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.local, "Page", "a")
	require.NoError(t, f.sess.Refresh(context.Background()))

	_, err := f.sess.Sync(context.Background(), docsync.Filter{})
	require.NoError(t, err)

	kinds := make(map[docsync.EventKind]int)
	for _, e := range f.events {
		kinds[e.Kind]++
	}

	assert.Positive(t, kinds[docsync.EventChange])
	assert.Equal(t, 1, kinds[docsync.EventStarted])
	assert.Equal(t, 1, kinds[docsync.EventFinished])
}

// --- Tree ---

// Pages only known locally stay unknown until the remote side lists
// something.
func TestTree_GroupsAndRenders(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"TracAdmin", "TracGuide", "TracGuideToc", "TracGuideIndex", "WikiStart"} {
		f.write(t, f.local, name, name)
	}
	require.NoError(t, f.sess.Refresh(context.Background()))

	forest := f.sess.Tree(docsync.Filter{})
	require.Len(t, forest, 2)

	var sb strings.Builder
	require.NoError(t, WriteTree(&sb, forest, ASCIIGlyphs))

	want := strings.Join([]string{
		"Trac (4)",
		"|-- TracAdmin [unknown]",
		"`-- TracGuide (3)",
		"    |-- TracGuide [unknown]",
		"    |-- TracGuideIndex [unknown]",
		"    `-- TracGuideToc [unknown]",
		"WikiStart [unknown]",
		"",
	}, "\n")
	assert.Equal(t, want, sb.String())
}

func TestWriteTree_ShowsErrors(t *testing.T) {
	d := &docsync.Document{Name: "Page", Status: docsync.StatusModified}
	d.SetError("boom")

	var sb strings.Builder
	require.NoError(t, WriteTree(&sb, []*docsync.Node{{Label: "Page", Doc: d}}, UnicodeGlyphs))
	assert.Equal(t, "Page [modified] error: boom\n", sb.String())
}

func TestWriteTree_UnicodeConnectors(t *testing.T) {
	docs := []*docsync.Document{
		{Name: "Alpha", Status: docsync.StatusNew},
		{Name: "Alpha2", Status: docsync.StatusNew},
		{Name: "Alpha3", Status: docsync.StatusNew},
	}

	var sb strings.Builder
	require.NoError(t, WriteTree(&sb, docsync.Group(docs), UnicodeGlyphs))

	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Alpha (3)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "├── "))
	assert.True(t, strings.HasPrefix(lines[3], "└── "))
}
