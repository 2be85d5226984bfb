package docsync

import (
	"fmt"
	"strings"
)

// Status is the sync state of a single document.
type Status string

const (
	StatusIgnored  Status = "ignored"
	StatusUnknown  Status = "unknown"
	StatusMissing  Status = "missing"
	StatusNew      Status = "new"
	StatusConflict Status = "conflict"
	StatusOutdated Status = "outdated"
	StatusModified Status = "modified"
	StatusSynced   Status = "synced"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusModified,
	StatusNew,
	StatusOutdated,
	StatusMissing,
	StatusConflict,
	StatusSynced,
	StatusUnknown,
	StatusIgnored,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIgnored, StatusUnknown, StatusMissing, StatusNew,
		StatusConflict, StatusOutdated, StatusModified, StatusSynced:
		return true
	}

	return false
}

// ParseStatus parses a wire status value.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}

	return st, nil
}

// Resolution is the operator's choice for a conflicted document.
type Resolution string

const (
	ResolveDefer      Resolution = "defer"
	ResolveTakeRemote Resolution = "take-remote"
	ResolveTakeLocal  Resolution = "take-local"
)

// ParseResolution accepts the canonical names and the legacy aliases used by
// the browser UI ("skip", "outdated" for take-remote, "modified" for
// take-local, plus the endpoint's "remote"/"local").
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "defer", "skip":
		return ResolveDefer, nil
	case "take-remote", "outdated", "remote", "pull":
		return ResolveTakeRemote, nil
	case "take-local", "modified", "local", "push":
		return ResolveTakeLocal, nil
	}

	return "", fmt.Errorf("unknown resolution %q", s)
}

// Action is a remote synchronization action.
type Action string

const (
	ActionPush    Action = "push"
	ActionPull    Action = "pull"
	ActionRefresh Action = "refresh"
	ActionResolve Action = "resolve"
)

// ParseAction parses a wire action value.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionPush, ActionPull, ActionRefresh, ActionResolve:
		return a, nil
	}

	return "", fmt.Errorf("unknown action %q", s)
}

// ResolveStatus is the status argument of a resolve action.
type ResolveStatus string

const (
	ResolveIgnore   ResolveStatus = "ignore"
	ResolveUnignore ResolveStatus = "unignore"
	ResolveLocal    ResolveStatus = "local"
	ResolveRemote   ResolveStatus = "remote"
)

// ParseResolveStatus parses the status argument of a resolve action.
func ParseResolveStatus(s string) (ResolveStatus, error) {
	switch r := ResolveStatus(strings.ToLower(strings.TrimSpace(s))); r {
	case ResolveIgnore, ResolveUnignore, ResolveLocal, ResolveRemote:
		return r, nil
	}

	return "", fmt.Errorf("unknown resolve status %q", s)
}

// Counters are the four version counters of a document. SyncRemote and
// SyncLocal hold the values observed at the last successful sync.
type Counters struct {
	SyncRemote int64 `json:"sync_remote_version"`
	SyncLocal  int64 `json:"sync_local_version"`
	Remote     int64 `json:"remote_version"`
	Local      int64 `json:"local_version"`
}

// Document is one synchronized name and its divergence state.
type Document struct {
	Name             string `json:"name"`
	Ignore           bool   `json:"ignore"`
	IgnoreAttachment bool   `json:"ignore_attachment"`
	SyncTime         int64  `json:"sync_time"`
	Counters
	Status  Status     `json:"status"`
	Resolve Resolution `json:"resolve,omitempty"`
	Err     *string    `json:"error,omitempty"`
}

// SetError records a failure message on the document.
func (d *Document) SetError(msg string) {
	d.Err = &msg
}

// ClearError removes any recorded failure.
func (d *Document) ClearError() {
	d.Err = nil
}

// ErrorMessage returns the recorded failure, or "" when none.
func (d *Document) ErrorMessage() string {
	if d.Err == nil {
		return ""
	}

	return *d.Err
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	if d.Err != nil {
		msg := *d.Err
		c.Err = &msg
	}

	return &c
}

// Classified returns the status of the document computed from its counters.
func (d *Document) Classified() Status {
	return Classify(d.Counters, d.SyncTime, d.Ignore)
}
