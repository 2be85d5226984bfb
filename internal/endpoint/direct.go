package endpoint

import (
	"context"

	"github.com/alexjbarnes/wikisync/internal/docsync"
)

// Direct calls a Service in process. It lets the server run the
// orchestrator without an HTTP round trip.
type Direct struct {
	svc *Service
}

var _ docsync.Remote = (*Direct)(nil)

// NewDirect wraps svc as a docsync.Remote.
func NewDirect(svc *Service) *Direct {
	return &Direct{svc: svc}
}

func (d *Direct) Sync(ctx context.Context, name string, action docsync.Action) ([]docsync.Document, error) {
	return d.svc.Execute(ctx, action, []string{name}, "")
}

func (d *Direct) Resolve(ctx context.Context, names []string, status docsync.ResolveStatus) ([]docsync.Document, error) {
	return d.svc.Execute(ctx, docsync.ActionResolve, names, status)
}

// Load lists every record.
func (d *Direct) Load(ctx context.Context) ([]docsync.Document, error) {
	return d.svc.List(ctx)
}

// RefreshAll rescans both stores and lists every record.
func (d *Direct) RefreshAll(ctx context.Context) ([]docsync.Document, error) {
	return d.svc.Execute(ctx, docsync.ActionRefresh, nil, "")
}
