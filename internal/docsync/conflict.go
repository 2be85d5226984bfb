package docsync

import "sync"

// ConflictPolicy decides how conflicted documents are handled during a pass.
// A global override, when set, takes precedence over each document's own
// choice and locks per-document edits.
type ConflictPolicy struct {
	mu     sync.RWMutex
	global Resolution
	active bool
}

// SetGlobal activates the override.
func (p *ConflictPolicy) SetGlobal(r Resolution) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.global = r
	p.active = true
}

// ClearGlobal removes the override so per-document choices apply again.
func (p *ConflictPolicy) ClearGlobal() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.global = ""
	p.active = false
}

// Global returns the override and whether it is active.
func (p *ConflictPolicy) Global() (Resolution, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.global, p.active
}

// Locked reports whether per-document choices are currently locked.
func (p *ConflictPolicy) Locked() bool {
	_, active := p.Global()
	return active
}

// Resolve returns the effective resolution for doc.
func (p *ConflictPolicy) Resolve(doc *Document) Resolution {
	if r, ok := p.Global(); ok {
		return r
	}

	if doc.Resolve == "" {
		return ResolveDefer
	}

	return doc.Resolve
}

// ActionFor returns the remote action a pass issues for doc. ok is false when
// the document is a deferred conflict and must be skipped without a call.
func (p *ConflictPolicy) ActionFor(doc *Document) (action Action, ok bool) {
	switch doc.Status {
	case StatusNew, StatusModified:
		return ActionPush, true
	case StatusMissing, StatusOutdated:
		return ActionPull, true
	case StatusConflict:
		switch p.Resolve(doc) {
		case ResolveTakeLocal:
			return ActionPush, true
		case ResolveTakeRemote:
			return ActionPull, true
		default:
			return "", false
		}
	default:
		return ActionRefresh, true
	}
}
