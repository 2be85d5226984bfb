// Package session ties a document collection, its orchestrator and the
// endpoint it talks to into one operator session. The CLI, the MCP tools
// and the server share it.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
)

// Remote is an endpoint that can list its records as well as act on them.
type Remote interface {
	docsync.Remote
	Load(ctx context.Context) ([]docsync.Document, error)
	RefreshAll(ctx context.Context) ([]docsync.Document, error)
}

// Recorder persists the outcome of runs.
type Recorder interface {
	SaveSnapshot(docs []*docsync.Document) error
	SaveRunReport(rep docsync.Report) error
}

// Options configures a Session.
type Options struct {
	// BatchSize is the number of names per ignore request.
	BatchSize int
	// Observer receives collection and run events. May be nil.
	Observer docsync.Observer
	// Recorder stores the collection and report after each run. May be nil.
	Recorder Recorder
}

// Session is the operator's view of one endpoint.
type Session struct {
	remote   Remote
	docs     *docsync.Collection
	orch     *docsync.Orchestrator
	recorder Recorder
	logger   *slog.Logger
}

// New creates an empty session. Call Load to fill it.
func New(remote Remote, logger *slog.Logger, opts Options) *Session {
	s := &Session{
		remote:   remote,
		recorder: opts.Recorder,
		logger:   logger,
	}

	observer := docsync.Observers{docsync.ObserverFunc(s.onEvent), opts.Observer}

	s.docs = docsync.NewCollection(opts.Observer)
	s.orch = docsync.NewOrchestrator(remote, s.docs, logger, docsync.Options{
		BatchSize: opts.BatchSize,
		Observer:  observer,
	})

	return s
}

// Docs returns the session's collection.
func (s *Session) Docs() *docsync.Collection { return s.docs }

// Orchestrator returns the session's orchestrator.
func (s *Session) Orchestrator() *docsync.Orchestrator { return s.orch }

// Load replaces the collection with the endpoint's current records.
func (s *Session) Load(ctx context.Context) error {
	docs, err := s.remote.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading documents: %w", err)
	}

	s.docs.Replace(docs)
	s.logger.Debug("documents loaded", slog.Int("count", len(docs)))

	return nil
}

// Refresh asks the endpoint to rescan both sides and replaces the
// collection with the result.
func (s *Session) Refresh(ctx context.Context) error {
	docs, err := s.remote.RefreshAll(ctx)
	if err != nil {
		return fmt.Errorf("refreshing documents: %w", err)
	}

	s.docs.Replace(docs)
	s.logger.Info("documents refreshed", slog.Int("count", len(docs)))

	return nil
}

// Select returns the documents passing f in name order.
func (s *Session) Select(f docsync.Filter) []*docsync.Document {
	return s.docs.Select(f)
}

// Tree groups the documents passing f for display.
func (s *Session) Tree(f docsync.Filter) []*docsync.Node {
	return docsync.Group(s.docs.Select(f))
}

// Sync runs a synchronization pass over the documents passing f and blocks
// until it ends. Documents are queued in tree display order.
func (s *Session) Sync(ctx context.Context, f docsync.Filter) (*docsync.Report, error) {
	return s.orch.Run(ctx, displayOrder(s.docs.Select(f)))
}

// StartSync begins a background synchronization pass over the documents
// passing f and returns its run ID.
func (s *Session) StartSync(ctx context.Context, f docsync.Filter) (string, error) {
	return s.orch.Start(ctx, displayOrder(s.docs.Select(f)))
}

// displayOrder flattens the grouped tree of docs back to its leaves.
func displayOrder(docs []*docsync.Document) []*docsync.Document {
	out := make([]*docsync.Document, 0, len(docs))

	docsync.Walk(docsync.Group(docs), func(n *docsync.Node, _ int) {
		if n.Doc != nil {
			out = append(out, n.Doc)
		}
	})

	return out
}

// Ignore sets or clears the ignore flag on the named documents. Names whose
// flag already matches are left alone. Unknown names fail the call before
// any request is made.
func (s *Session) Ignore(ctx context.Context, names []string, ignore bool) (*docsync.Report, error) {
	docs, err := s.Documents(names)
	if err != nil {
		return nil, err
	}

	return s.orch.Ignore(ctx, docsync.SelectForIgnore(docs, ignore), ignore)
}

// Documents returns copies of the named documents in the order given.
func (s *Session) Documents(names []string) ([]*docsync.Document, error) {
	docs := make([]*docsync.Document, 0, len(names))

	for _, name := range names {
		d, ok := s.docs.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", syncerr.ErrDocumentNotFound, name)
		}

		docs = append(docs, d)
	}

	return docs, nil
}

// IgnoreSelection returns the documents passing f whose ignore flag differs
// from ignore. Callers use it to size a bulk request before confirming it.
func (s *Session) IgnoreSelection(f docsync.Filter, ignore bool) []*docsync.Document {
	return docsync.SelectForIgnore(s.docs.Select(f), ignore)
}

// IgnoreDocs sets or clears the ignore flag on docs as one batched run.
func (s *Session) IgnoreDocs(ctx context.Context, docs []*docsync.Document, ignore bool) (*docsync.Report, error) {
	return s.orch.Ignore(ctx, docs, ignore)
}

// SetResolve records the resolution for one conflicted document.
func (s *Session) SetResolve(name string, r docsync.Resolution) error {
	return s.docs.SetResolve(name, r)
}

// SetGlobalResolve sets the override applied to every conflict. An empty
// resolution clears it.
func (s *Session) SetGlobalResolve(r docsync.Resolution) {
	if r == "" {
		s.docs.Policy().ClearGlobal()
		return
	}

	s.docs.Policy().SetGlobal(r)
}

func (s *Session) onEvent(e docsync.Event) {
	if e.Kind != docsync.EventFinished || s.recorder == nil || e.Report == nil {
		return
	}

	if err := s.recorder.SaveRunReport(*e.Report); err != nil {
		s.logger.Warn("saving run report", slog.String("run_id", e.RunID), slog.String("error", err.Error()))
	}

	if err := s.recorder.SaveSnapshot(s.docs.Snapshot()); err != nil {
		s.logger.Warn("saving snapshot", slog.String("run_id", e.RunID), slog.String("error", err.Error()))
	}
}
