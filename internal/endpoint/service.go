// Package endpoint implements the remote synchronization endpoint. Service
// executes actions between the local and remote page stores and keeps one
// sync record per page. Handler serves it over HTTP and Client calls it.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
	"github.com/alexjbarnes/wikisync/internal/pagestore"
	"github.com/alexjbarnes/wikisync/internal/state"
)

// RecordStore persists sync records.
type RecordStore interface {
	GetRecord(name string) (*state.Record, error)
	PutRecord(r state.Record) error
	PutRecords(records []state.Record) error
	DeleteRecord(name string) error
	AllRecords() ([]state.Record, error)
}

// Service owns the sync records and applies actions to them. Calls are
// serialized.
type Service struct {
	local   *pagestore.Store
	remote  *pagestore.Store
	records RecordStore
	ignore  *docsync.IgnoreFilter
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewService creates a Service. ignore decides the initial ignore flag of
// newly discovered pages and may be nil.
func NewService(local, remote *pagestore.Store, records RecordStore, ignore *docsync.IgnoreFilter, logger *slog.Logger) *Service {
	return &Service{
		local:   local,
		remote:  remote,
		records: records,
		ignore:  ignore,
		logger:  logger,
		now:     time.Now,
	}
}

// List returns every record as a classified document.
func (s *Service) List(ctx context.Context) ([]docsync.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.list()
}

// Find returns the documents for names, skipping names without a record.
func (s *Service) Find(ctx context.Context, names []string) ([]docsync.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.find(names)
	if err != nil {
		return nil, err
	}

	return s.documents(recs)
}

// Execute runs action against the named pages and returns their updated
// documents. A refresh without names rescans both stores and returns the
// full list. Names without a record are skipped; when none remain the call
// fails with ErrDocumentNotFound. The first failing page aborts the call,
// leaving earlier pages updated.
func (s *Service) Execute(ctx context.Context, action docsync.Action, names []string, status docsync.ResolveStatus) ([]docsync.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if action == docsync.ActionRefresh && len(names) == 0 {
		if err := s.refreshAll(); err != nil {
			return nil, err
		}

		return s.list()
	}

	if len(names) == 0 {
		return nil, syncerr.ErrMissingDocumentArg
	}

	if action == docsync.ActionResolve {
		if _, err := docsync.ParseResolveStatus(string(status)); err != nil {
			return nil, fmt.Errorf("%w: resolve status %q", syncerr.ErrUnsupportedAction, status)
		}
	}

	recs, err := s.find(names)
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrDocumentNotFound, names)
	}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.apply(&recs[i], action, status); err != nil {
			s.logger.Warn("endpoint action failed",
				slog.String("name", recs[i].Name),
				slog.String("action", string(action)),
				slog.String("error", err.Error()),
			)

			return nil, err
		}

		if err := s.records.PutRecord(recs[i]); err != nil {
			return nil, fmt.Errorf("saving record %s: %w", recs[i].Name, err)
		}
	}

	s.logger.Debug("endpoint action",
		slog.String("action", string(action)),
		slog.String("status", string(status)),
		slog.Int("pages", len(recs)),
	)

	return s.documents(recs)
}

func (s *Service) apply(rec *state.Record, action docsync.Action, status docsync.ResolveStatus) error {
	switch action {
	case docsync.ActionRefresh:
		return s.refresh(rec)
	case docsync.ActionPush:
		return s.push(rec)
	case docsync.ActionPull:
		return s.pull(rec)
	case docsync.ActionResolve:
		return s.resolve(rec, status)
	}

	return fmt.Errorf("%w: %q", syncerr.ErrUnsupportedAction, action)
}

// refresh re-reads the remote version of one page. A page missing on the
// remote side leaves the record unchanged.
func (s *Service) refresh(rec *state.Record) error {
	v, err := s.remote.Version(rec.Name)
	if err != nil {
		return err
	}

	if v == 0 {
		return nil
	}

	rec.RemoteVersion = v
	if rec.SyncTime == 0 {
		rec.SyncTime = s.now().Unix()
	}

	return nil
}

// push copies the local text to the remote store.
func (s *Service) push(rec *state.Record) error {
	page, err := s.local.Read(rec.Name)
	if err != nil {
		if pagestore.IsNotFound(err) {
			return fmt.Errorf("cannot find local page %s", rec.Name)
		}

		return err
	}

	written, err := s.remote.Write(rec.Name, page.Text)
	if err != nil {
		return fmt.Errorf("writing remote page %s: %w", rec.Name, err)
	}

	rec.RemoteVersion = written.Version

	return s.synchronized(rec, page.Version)
}

// pull copies the remote text to the local store.
func (s *Service) pull(rec *state.Record) error {
	page, err := s.remote.Read(rec.Name)
	if err != nil {
		if pagestore.IsNotFound(err) {
			return fmt.Errorf("cannot find remote page %s", rec.Name)
		}

		return err
	}

	written, err := s.local.Write(rec.Name, page.Text)
	if err != nil {
		return fmt.Errorf("writing local page %s: %w", rec.Name, err)
	}

	rec.RemoteVersion = page.Version

	return s.synchronized(rec, written.Version)
}

// synchronized marks the current counters as seen by both sides.
func (s *Service) synchronized(rec *state.Record, localVersion int64) error {
	if rec.RemoteVersion <= 0 {
		return fmt.Errorf("invalid remote version %d for %s", rec.RemoteVersion, rec.Name)
	}

	if localVersion <= 0 {
		return fmt.Errorf("invalid local version %d for %s", localVersion, rec.Name)
	}

	rec.SyncRemoteVersion = rec.RemoteVersion
	rec.SyncLocalVersion = localVersion
	rec.SyncTime = s.now().Unix()

	return nil
}

func (s *Service) resolve(rec *state.Record, status docsync.ResolveStatus) error {
	switch status {
	case docsync.ResolveIgnore:
		rec.Ignore = true
	case docsync.ResolveUnignore:
		rec.Ignore = false
	case docsync.ResolveLocal:
		rec.SyncRemoteVersion = rec.RemoteVersion
	case docsync.ResolveRemote:
		lv, err := s.local.Version(rec.Name)
		if err != nil {
			return err
		}

		rec.SyncLocalVersion = lv
	default:
		return fmt.Errorf("%w: resolve status %q", syncerr.ErrUnsupportedAction, status)
	}

	return nil
}

// refreshAll rescans both stores and brings every record up to date with
// the remote listing. Pages first seen on the remote side start ignored
// when they match the ignore filter. Records whose remote page vanished
// lose their remote counters, or are dropped when no local page exists.
func (s *Service) refreshAll() error {
	localScan, err := s.local.Scan()
	if err != nil {
		return fmt.Errorf("scanning local pages: %w", err)
	}

	remoteScan, err := s.remote.Scan()
	if err != nil {
		return fmt.Errorf("scanning remote pages: %w", err)
	}

	existing, err := s.records.AllRecords()
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}

	byName := make(map[string]*state.Record, len(existing))
	for i := range existing {
		byName[existing[i].Name] = &existing[i]
	}

	// Local pages without a record get an empty one.
	for _, name := range sortedKeys(localScan.Versions) {
		if _, ok := byName[name]; !ok {
			byName[name] = &state.Record{Name: name}
		}
	}

	syncTime := s.now().Unix()
	created := 0

	for _, name := range sortedKeys(remoteScan.Versions) {
		rec, ok := byName[name]
		if !ok {
			rec = &state.Record{Name: name, Ignore: s.ignore.Matches(name)}
			byName[name] = rec
			created++
		} else if rec.SyncTime == 0 && s.ignore.Matches(name) {
			rec.Ignore = true
		}

		rec.SyncTime = syncTime
		rec.RemoteVersion = remoteScan.Versions[name]
	}

	var dropped []string

	// An empty remote listing is more likely a failure than a wiped wiki.
	if len(remoteScan.Versions) > 0 {
		for name, rec := range byName {
			if _, ok := remoteScan.Versions[name]; ok {
				continue
			}

			if localScan.Versions[name] == 0 {
				dropped = append(dropped, name)
				continue
			}

			rec.RemoteVersion = 0
			rec.SyncRemoteVersion = 0
			rec.SyncTime = syncTime
		}
	}

	for _, name := range dropped {
		delete(byName, name)

		if err := s.records.DeleteRecord(name); err != nil {
			return fmt.Errorf("deleting record %s: %w", name, err)
		}
	}

	records := make([]state.Record, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		records = append(records, *byName[name])
	}

	if err := s.records.PutRecords(records); err != nil {
		return fmt.Errorf("saving records: %w", err)
	}

	s.logger.Info("endpoint records refreshed",
		slog.Int("records", len(records)),
		slog.Int("created", created),
		slog.Int("dropped", len(dropped)),
	)

	return nil
}

func (s *Service) find(names []string) ([]state.Record, error) {
	recs := make([]state.Record, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		name = pagestore.NormalizeName(name)
		if name == "" || seen[name] {
			continue
		}

		seen[name] = true

		rec, err := s.records.GetRecord(name)
		if err != nil {
			return nil, fmt.Errorf("loading record %s: %w", name, err)
		}

		if rec != nil {
			recs = append(recs, *rec)
		}
	}

	return recs, nil
}

func (s *Service) list() ([]docsync.Document, error) {
	recs, err := s.records.AllRecords()
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	return s.documents(recs)
}

// documents joins records with the live local versions.
func (s *Service) documents(recs []state.Record) ([]docsync.Document, error) {
	locals, err := s.local.Versions()
	if err != nil {
		return nil, err
	}

	docs := make([]docsync.Document, 0, len(recs))
	for _, r := range recs {
		d := docsync.Document{
			Name:             r.Name,
			Ignore:           r.Ignore,
			IgnoreAttachment: r.IgnoreAttachment,
			SyncTime:         r.SyncTime,
			Counters: docsync.Counters{
				SyncRemote: r.SyncRemoteVersion,
				SyncLocal:  r.SyncLocalVersion,
				Remote:     r.RemoteVersion,
				Local:      locals[r.Name],
			},
		}
		d.Status = docsync.ClassifyServer(d.Counters, d.SyncTime, d.Ignore)
		docs = append(docs, d)
	}

	return docs, nil
}

// IsClientError reports whether err was caused by the request rather than
// the endpoint.
func IsClientError(err error) bool {
	return errors.Is(err, syncerr.ErrMissingDocumentArg) ||
		errors.Is(err, syncerr.ErrUnsupportedAction) ||
		errors.Is(err, syncerr.ErrDocumentNotFound)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
