package docsync

import "context"

//go:generate mockgen -source=remote.go -destination=mock_remote_test.go -package=docsync

// Remote is the synchronization endpoint. Each call returns the updated
// records for the names it touched.
type Remote interface {
	Sync(ctx context.Context, name string, action Action) ([]Document, error)
	Resolve(ctx context.Context, names []string, status ResolveStatus) ([]Document, error)
}
