package docsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
	"github.com/google/uuid"
)

const (
	// ErrorThreshold is the number of failed requests a run tolerates. The
	// run is interrupted once the count exceeds it.
	ErrorThreshold = 5

	// DefaultBatchSize is the number of names sent per ignore request.
	DefaultBatchSize = 10

	// ConfirmThreshold is the bulk ignore size above which operator
	// surfaces ask for confirmation.
	ConfirmThreshold = 30
)

// RunState is the orchestrator's lifecycle state.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
)

func (s RunState) String() string {
	if s == StateRunning {
		return "running"
	}

	return "idle"
}

// Outcome describes how a run ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeCancelled   Outcome = "cancelled"
)

// RunKind names what a run does.
type RunKind string

const (
	RunSync     RunKind = "sync"
	RunIgnore   RunKind = "ignore"
	RunUnignore RunKind = "unignore"
)

// Report summarizes a run.
type Report struct {
	RunID     string        `json:"run_id"`
	Kind      RunKind       `json:"kind"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	Total     int           `json:"total"`
	Requests  int           `json:"requests"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Options configures an Orchestrator.
type Options struct {
	// BatchSize is the number of names per ignore request. Zero sends every
	// name in a single request.
	BatchSize int
	// Observer receives progress, complete, started and finished events.
	Observer Observer
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize}
}

type run struct {
	report Report
	done   chan struct{}
}

// Orchestrator walks a queue of documents and issues one remote request at a
// time, recording failures on the documents and interrupting the run when
// too many requests fail.
type Orchestrator struct {
	remote    Remote
	docs      *Collection
	logger    *slog.Logger
	observer  Observer
	batchSize int

	mu        sync.Mutex
	state     RunState
	current   *run
	last      *Report
	cancelled atomic.Bool
}

// NewOrchestrator creates an idle orchestrator over the collection.
func NewOrchestrator(remote Remote, docs *Collection, logger *slog.Logger, opts Options) *Orchestrator {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	batch := opts.BatchSize
	if batch < 0 {
		batch = DefaultBatchSize
	}

	return &Orchestrator{
		remote:    remote,
		docs:      docs,
		logger:    logger,
		observer:  observer,
		batchSize: batch,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// Progress returns a copy of the running report, or the last finished one
// when idle. ok is false when nothing has run yet.
func (o *Orchestrator) Progress() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		return o.current.report, true
	}

	if o.last != nil {
		return *o.last, true
	}

	return Report{}, false
}

// Cancel asks the current run to stop. The in-flight request completes and
// nothing further is dequeued.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Wait blocks until the current run finishes and returns its report. When
// idle it returns the last report, or nil.
func (o *Orchestrator) Wait() *Report {
	o.mu.Lock()
	cur, last := o.current, o.last
	o.mu.Unlock()

	if cur == nil {
		return last
	}

	<-cur.done

	o.mu.Lock()
	defer o.mu.Unlock()

	rep := cur.report

	return &rep
}

// Run performs a synchronization pass over docs and blocks until it ends.
// Ignored and synced documents are not queued. Per-document failures are
// recorded on the documents and summarized in the report; the returned
// error is only set when the run could not start.
func (o *Orchestrator) Run(ctx context.Context, docs []*Document) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queue := eligible(docs)

	r, err := o.begin(RunSync, len(queue))
	if err != nil {
		return nil, err
	}

	return o.syncQueue(ctx, r, queue), nil
}

// Start begins a synchronization pass in the background and returns its run
// ID. The pass is detached from ctx cancellation; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context, docs []*Document) (string, error) {
	queue := eligible(docs)

	r, err := o.begin(RunSync, len(queue))
	if err != nil {
		return "", err
	}

	go o.syncQueue(context.WithoutCancel(ctx), r, queue)

	return r.report.RunID, nil
}

// Ignore sets or clears the ignore flag of docs in batches, one request per
// batch. Every document of a batch succeeds or fails together.
func (o *Orchestrator) Ignore(ctx context.Context, docs []*Document, ignore bool) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind, status := RunUnignore, ResolveUnignore
	if ignore {
		kind, status = RunIgnore, ResolveIgnore
	}

	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}

	r, err := o.begin(kind, len(names))
	if err != nil {
		return nil, err
	}

	return o.resolveBatches(ctx, r, names, status), nil
}

func eligible(docs []*Document) []string {
	queue := make([]string, 0, len(docs))

	for _, d := range docs {
		if d == nil || d.Ignore || d.Status == StatusIgnored || d.Status == StatusSynced {
			continue
		}

		queue = append(queue, d.Name)
	}

	return queue
}

func (o *Orchestrator) begin(kind RunKind, total int) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateRunning {
		return nil, syncerr.ErrAlreadyRunning
	}

	o.state = StateRunning
	o.cancelled.Store(false)

	r := &run{
		report: Report{
			RunID:     uuid.NewString(),
			Kind:      kind,
			Total:     total,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	o.current = r

	rep := r.report
	o.logger.Info("run started",
		slog.String("run_id", rep.RunID),
		slog.String("kind", string(kind)),
		slog.Int("total", total),
	)
	o.observer.Notify(Event{Kind: EventStarted, RunID: rep.RunID, Report: &rep, Time: rep.StartedAt})

	return r, nil
}

func (o *Orchestrator) update(r *run, fn func(rep *Report)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fn(&r.report)
}

func (o *Orchestrator) finish(r *run, outcome Outcome) *Report {
	o.mu.Lock()
	r.report.Outcome = outcome
	r.report.Duration = time.Since(r.report.StartedAt)
	rep := r.report
	o.state = StateIdle
	o.current = nil
	o.last = &rep
	o.mu.Unlock()

	close(r.done)

	attrs := []any{
		slog.String("run_id", rep.RunID),
		slog.String("kind", string(rep.Kind)),
		slog.String("outcome", string(outcome)),
		slog.Int("processed", rep.Processed),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
		slog.Duration("duration", rep.Duration),
	}
	if outcome == OutcomeInterrupted {
		o.logger.Warn("run interrupted, too many errors", attrs...)
	} else {
		o.logger.Info("run finished", attrs...)
	}

	out := rep
	o.observer.Notify(Event{Kind: EventFinished, RunID: rep.RunID, Report: &out, Time: time.Now()})

	return &rep
}

// stopRequested reports whether the run must not dequeue another item.
func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

func (o *Orchestrator) syncQueue(ctx context.Context, r *run, queue []string) *Report {
	runID := r.report.RunID
	errCount := 0

	for _, name := range queue {
		if o.stopRequested(ctx) {
			return o.finish(r, OutcomeCancelled)
		}

		doc, ok := o.docs.Get(name)
		if !ok || doc.Ignore || doc.Status == StatusIgnored {
			o.update(r, func(rep *Report) { rep.Skipped++ })
			continue
		}

		action, ok := o.docs.Policy().ActionFor(doc)
		if !ok {
			o.logger.Debug("deferring conflict", slog.String("run_id", runID), slog.String("name", name))
			o.update(r, func(rep *Report) { rep.Skipped++ })

			continue
		}

		o.observer.Notify(Event{Kind: EventProgress, RunID: runID, Name: name, Action: action, Time: time.Now()})
		o.update(r, func(rep *Report) { rep.Requests++ })

		results, err := o.remote.Sync(ctx, name, action)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return o.finish(r, OutcomeCancelled)
			}

			errCount++
			o.fail(r, runID, []string{name}, action, "", err)

			if errCount > ErrorThreshold {
				return o.finish(r, OutcomeInterrupted)
			}

			continue
		}

		o.succeed(r, runID, []string{name}, action, "", results)
	}

	return o.finish(r, OutcomeCompleted)
}

func (o *Orchestrator) resolveBatches(ctx context.Context, r *run, names []string, status ResolveStatus) *Report {
	runID := r.report.RunID
	errCount := 0

	size := o.batchSize
	if size == 0 {
		size = len(names)
	}

	for start := 0; start < len(names); start += size {
		if o.stopRequested(ctx) {
			return o.finish(r, OutcomeCancelled)
		}

		batch := names[start:min(start+size, len(names))]

		now := time.Now()
		for _, name := range batch {
			o.observer.Notify(Event{Kind: EventProgress, RunID: runID, Name: name, Action: ActionResolve, Status: status, Time: now})
		}

		o.update(r, func(rep *Report) { rep.Requests++ })

		results, err := o.remote.Resolve(ctx, batch, status)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return o.finish(r, OutcomeCancelled)
			}

			errCount++
			o.fail(r, runID, batch, ActionResolve, status, err)

			if errCount > ErrorThreshold {
				return o.finish(r, OutcomeInterrupted)
			}

			continue
		}

		o.succeed(r, runID, batch, ActionResolve, status, results)
	}

	return o.finish(r, OutcomeCompleted)
}

func (o *Orchestrator) fail(r *run, runID string, names []string, action Action, status ResolveStatus, err error) {
	msg := err.Error()

	o.update(r, func(rep *Report) {
		rep.Failed += len(names)
		rep.Errors++
	})

	o.logger.Warn("sync request failed",
		slog.String("run_id", runID),
		slog.String("action", string(action)),
		slog.Int("documents", len(names)),
		slog.String("error", msg),
	)

	now := time.Now()

	for _, name := range names {
		if _, setErr := o.docs.SetError(name, msg); setErr != nil {
			o.logger.Debug("failed document not in collection", slog.String("name", name))
		}

		o.observer.Notify(Event{Kind: EventComplete, RunID: runID, Name: name, Action: action, Status: status, Error: msg, Time: now})
	}
}

func (o *Orchestrator) succeed(r *run, runID string, names []string, action Action, status ResolveStatus, results []Document) {
	updated := o.docs.Apply(results)

	byName := make(map[string]*Document, len(updated))
	for _, d := range updated {
		byName[d.Name] = d
	}

	// A success clears the error even when the response omits the name.
	for _, name := range names {
		if _, ok := byName[name]; ok {
			continue
		}

		if d, err := o.docs.ClearError(name); err == nil {
			byName[name] = d
		}
	}

	o.update(r, func(rep *Report) { rep.Processed += len(names) })

	now := time.Now()
	for _, name := range names {
		o.observer.Notify(Event{Kind: EventComplete, RunID: runID, Name: name, Action: action, Status: status, Document: byName[name], Success: true, Time: now})
	}
}
