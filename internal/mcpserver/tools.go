// Package mcpserver registers MCP tools that expose the sync session.
// It adapts the session package to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, s *session.Session) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_list",
		Description: "List documents with their sync status and version counters. Filter by a comma separated status list (modified,new,outdated,missing,conflict,synced,unknown,ignored) and a case-insensitive name substring.",
	}, listHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_tree",
		Description: "Show the filtered documents grouped by shared name prefixes as an indented tree. Groups show their document count, leaves their status.",
	}, treeHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_refresh",
		Description: "Ask the endpoint to rescan both page stores and reload every document. Returns the count per status.",
	}, refreshHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_sync_start",
		Description: "Start a background synchronization pass over the filtered documents. New and modified pages are pushed, missing and outdated pages pulled, conflicts follow their resolution. Poll wikisync_sync_status for progress.",
	}, syncStartHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_sync_status",
		Description: "Report whether a run is active and its progress, or the result of the last run.",
	}, syncStatusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_sync_cancel",
		Description: "Stop the active run after its in-flight request completes.",
	}, syncCancelHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_resolve",
		Description: "Choose how conflicts are resolved: defer, take-remote or take-local. Set it for one document by name, or for every conflict with global. A global choice locks per-document choices until cleared with clear.",
	}, resolveHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "wikisync_ignore",
		Description: "Set or clear the ignore flag on documents given by name, or on every document matching a filter. Bulk requests above the confirmation threshold need confirm=true.",
	}, ignoreHandler(s))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// FilterInput selects documents.
type FilterInput struct {
	Status string `json:"status,omitempty" jsonschema:"comma separated statuses, empty selects all"`
	Name   string `json:"name,omitempty" jsonschema:"case-insensitive name substring"`
}

// RefreshInput has no parameters.
type RefreshInput struct{}

// StatusInput has no parameters.
type StatusInput struct{}

// CancelInput has no parameters.
type CancelInput struct{}

// ResolveInput holds parameters for wikisync_resolve.
type ResolveInput struct {
	Name       string `json:"name,omitempty" jsonschema:"document to resolve, omit with global or clear"`
	Resolution string `json:"resolution,omitempty" jsonschema:"defer, take-remote or take-local"`
	Global     bool   `json:"global,omitempty" jsonschema:"apply the resolution to every conflict"`
	Clear      bool   `json:"clear,omitempty" jsonschema:"remove the global resolution"`
}

// IgnoreInput holds parameters for wikisync_ignore.
type IgnoreInput struct {
	Names   []string `json:"names,omitempty" jsonschema:"documents to change, omit to use the filter"`
	Status  string   `json:"status,omitempty" jsonschema:"comma separated statuses when names is empty"`
	Name    string   `json:"name,omitempty" jsonschema:"name substring when names is empty"`
	Unset   bool     `json:"unset,omitempty" jsonschema:"clear the ignore flag instead of setting it"`
	Confirm bool     `json:"confirm,omitempty" jsonschema:"required for bulk requests above the confirmation threshold"`
}

// --- Output types ---

// DocumentInfo is one document as reported by the tools.
type DocumentInfo struct {
	Name              string `json:"name"`
	Status            string `json:"status"`
	Ignore            bool   `json:"ignore"`
	SyncTime          int64  `json:"sync_time"`
	SyncRemoteVersion int64  `json:"sync_remote_version"`
	SyncLocalVersion  int64  `json:"sync_local_version"`
	RemoteVersion     int64  `json:"remote_version"`
	LocalVersion      int64  `json:"local_version"`
	Resolve           string `json:"resolve,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ListResult is the output of wikisync_list.
type ListResult struct {
	Total     int            `json:"total"`
	Counts    map[string]int `json:"counts"`
	Documents []DocumentInfo `json:"documents"`
}

// TreeResult is the output of wikisync_tree.
type TreeResult struct {
	Documents int    `json:"documents"`
	Tree      string `json:"tree"`
}

// RefreshResult is the output of wikisync_refresh.
type RefreshResult struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// RunInfo summarizes a run.
type RunInfo struct {
	RunID     string `json:"run_id"`
	Kind      string `json:"kind"`
	Outcome   string `json:"outcome,omitempty"`
	Total     int    `json:"total"`
	Requests  int    `json:"requests"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	StartedAt string `json:"started_at"`
	Duration  string `json:"duration,omitempty"`
}

// StatusResult is the output of wikisync_sync_status.
type StatusResult struct {
	State string   `json:"state"`
	Run   *RunInfo `json:"run,omitempty"`
}

// StartResult is the output of wikisync_sync_start.
type StartResult struct {
	RunID  string `json:"run_id"`
	Queued int    `json:"queued"`
}

// ResolveResult is the output of wikisync_resolve.
type ResolveResult struct {
	Global   string `json:"global,omitempty"`
	Name     string `json:"name,omitempty"`
	Resolved string `json:"resolved,omitempty"`
}

// IgnoreResult is the output of wikisync_ignore.
type IgnoreResult struct {
	Selected int      `json:"selected"`
	Run      *RunInfo `json:"run,omitempty"`
}

// --- Handlers ---

func listHandler(s *session.Session) mcp.ToolHandlerFor[FilterInput, *ListResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input FilterInput) (*mcp.CallToolResult, *ListResult, error) {
		f, err := parseFilter(input.Status, input.Name)
		if err != nil {
			return nil, nil, err
		}

		docs := s.Select(f)
		result := &ListResult{
			Total:     len(docs),
			Counts:    countStatuses(docs),
			Documents: make([]DocumentInfo, len(docs)),
		}

		for i, d := range docs {
			result.Documents[i] = documentInfo(d)
		}

		return textResult(result), result, nil
	}
}

func treeHandler(s *session.Session) mcp.ToolHandlerFor[FilterInput, *TreeResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input FilterInput) (*mcp.CallToolResult, *TreeResult, error) {
		f, err := parseFilter(input.Status, input.Name)
		if err != nil {
			return nil, nil, err
		}

		docs := s.Select(f)

		var sb strings.Builder
		if err := session.WriteTree(&sb, docsync.Group(docs), session.ASCIIGlyphs); err != nil {
			return nil, nil, err
		}

		result := &TreeResult{Documents: len(docs), Tree: sb.String()}

		return textResult(result), result, nil
	}
}

func refreshHandler(s *session.Session) mcp.ToolHandlerFor[RefreshInput, *RefreshResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ RefreshInput) (*mcp.CallToolResult, *RefreshResult, error) {
		if s.Orchestrator().State() == docsync.StateRunning {
			return nil, nil, errors.New("a run is active; cancel it or wait before refreshing")
		}

		if err := s.Refresh(ctx); err != nil {
			return nil, nil, err
		}

		docs := s.Select(docsync.Filter{})
		result := &RefreshResult{Total: len(docs), Counts: countStatuses(docs)}

		return textResult(result), result, nil
	}
}

func syncStartHandler(s *session.Session) mcp.ToolHandlerFor[FilterInput, *StartResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FilterInput) (*mcp.CallToolResult, *StartResult, error) {
		f, err := parseFilter(input.Status, input.Name)
		if err != nil {
			return nil, nil, err
		}

		runID, err := s.StartSync(ctx, f)
		if err != nil {
			return nil, nil, err
		}

		result := &StartResult{RunID: runID}
		if rep, ok := s.Orchestrator().Progress(); ok && rep.RunID == runID {
			result.Queued = rep.Total
		}

		return textResult(result), result, nil
	}
}

func syncStatusHandler(s *session.Session) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		result := &StatusResult{State: s.Orchestrator().State().String()}

		if rep, ok := s.Orchestrator().Progress(); ok {
			result.Run = runInfo(&rep)
		}

		return textResult(result), result, nil
	}
}

func syncCancelHandler(s *session.Session) mcp.ToolHandlerFor[CancelInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ CancelInput) (*mcp.CallToolResult, *StatusResult, error) {
		orch := s.Orchestrator()
		if orch.State() != docsync.StateRunning {
			return nil, nil, errors.New("no run is active")
		}

		orch.Cancel()

		result := &StatusResult{State: "cancelling"}
		if rep, ok := orch.Progress(); ok {
			result.Run = runInfo(&rep)
		}

		return textResult(result), result, nil
	}
}

func resolveHandler(s *session.Session) mcp.ToolHandlerFor[ResolveInput, *ResolveResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, *ResolveResult, error) {
		if input.Clear {
			s.SetGlobalResolve("")
			result := &ResolveResult{}

			return textResult(result), result, nil
		}

		r, err := docsync.ParseResolution(input.Resolution)
		if err != nil {
			return nil, nil, err
		}

		if input.Global {
			s.SetGlobalResolve(r)
			result := &ResolveResult{Global: string(r)}

			return textResult(result), result, nil
		}

		if input.Name == "" {
			return nil, nil, errors.New("name is required unless global or clear is set")
		}

		if err := s.SetResolve(input.Name, r); err != nil {
			return nil, nil, err
		}

		result := &ResolveResult{Name: input.Name, Resolved: string(r)}

		return textResult(result), result, nil
	}
}

func ignoreHandler(s *session.Session) mcp.ToolHandlerFor[IgnoreInput, *IgnoreResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IgnoreInput) (*mcp.CallToolResult, *IgnoreResult, error) {
		ignore := !input.Unset

		var docs []*docsync.Document

		if len(input.Names) > 0 {
			named, err := s.Documents(input.Names)
			if err != nil {
				return nil, nil, err
			}

			docs = docsync.SelectForIgnore(named, ignore)
		} else {
			f, err := parseFilter(input.Status, input.Name)
			if err != nil {
				return nil, nil, err
			}

			docs = s.IgnoreSelection(f, ignore)
		}

		if len(docs) > docsync.ConfirmThreshold && !input.Confirm {
			return nil, nil, fmt.Errorf("%d documents selected, more than %d; repeat with confirm=true", len(docs), docsync.ConfirmThreshold)
		}

		result := &IgnoreResult{Selected: len(docs)}
		if len(docs) == 0 {
			return textResult(result), result, nil
		}

		rep, err := s.IgnoreDocs(ctx, docs, ignore)
		if err != nil {
			return nil, nil, err
		}

		result.Run = runInfo(rep)

		return textResult(result), result, nil
	}
}

// --- Helpers ---

func parseFilter(statuses, name string) (docsync.Filter, error) {
	st, err := docsync.ParseStatuses(statuses)
	if err != nil {
		return docsync.Filter{}, err
	}

	return docsync.Filter{Statuses: st, Name: name}, nil
}

func countStatuses(docs []*docsync.Document) map[string]int {
	counts := make(map[string]int)
	for _, d := range docs {
		counts[string(d.Status)]++
	}

	return counts
}

func documentInfo(d *docsync.Document) DocumentInfo {
	return DocumentInfo{
		Name:              d.Name,
		Status:            string(d.Status),
		Ignore:            d.Ignore,
		SyncTime:          d.SyncTime,
		SyncRemoteVersion: d.SyncRemote,
		SyncLocalVersion:  d.SyncLocal,
		RemoteVersion:     d.Remote,
		LocalVersion:      d.Local,
		Resolve:           string(d.Resolve),
		Error:             d.ErrorMessage(),
	}
}

func runInfo(rep *docsync.Report) *RunInfo {
	info := &RunInfo{
		RunID:     rep.RunID,
		Kind:      string(rep.Kind),
		Outcome:   string(rep.Outcome),
		Total:     rep.Total,
		Requests:  rep.Requests,
		Processed: rep.Processed,
		Skipped:   rep.Skipped,
		Failed:    rep.Failed,
		StartedAt: rep.StartedAt.UTC().Format(time.RFC3339),
	}

	if rep.Duration > 0 {
		info.Duration = rep.Duration.String()
	}

	return info
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
