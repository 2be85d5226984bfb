package endpoint

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
)

const (
	// FormTokenField is the form field carrying the anti-forgery token.
	FormTokenField = "__FORM_TOKEN"

	// FormTokenHeader carries a fresh form token on every GET response.
	FormTokenHeader = "X-Form-Token"

	// maxFormBytes caps the size of a request body.
	maxFormBytes = 1 << 20
)

// FormTokens issues and checks anti-forgery tokens.
type FormTokens interface {
	IssueFormToken() string
	ValidFormToken(token string) bool
}

// Handler serves the synchronization endpoint. GET lists records, POST
// executes an action. Responses are JSON in the requested schema.
type Handler struct {
	svc    *Service
	tokens FormTokens
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, tokens FormTokens, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleAction(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	schema, ok := parseSchema(r.URL.Query().Get("schema"))
	if !ok {
		http.Error(w, "unsupported schema", http.StatusBadRequest)
		return
	}

	var (
		docs []docsync.Document
		err  error
	)

	if names := r.URL.Query()["name"]; len(names) > 0 {
		docs, err = h.svc.Find(r.Context(), names)
	} else {
		docs, err = h.svc.List(r.Context())
	}

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set(FormTokenHeader, h.tokens.IssueFormToken())
	h.writeDocuments(w, docs, schema)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if !h.tokens.ValidFormToken(r.PostForm.Get(FormTokenField)) {
		h.logger.Debug("endpoint: rejected form token", slog.String("ip", r.RemoteAddr))
		http.Error(w, syncerr.ErrInvalidFormToken.Error(), http.StatusForbidden)

		return
	}

	schema, ok := parseSchema(r.PostForm.Get("schema"))
	if !ok {
		http.Error(w, "unsupported schema", http.StatusBadRequest)
		return
	}

	action, err := docsync.ParseAction(r.PostForm.Get("action"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var status docsync.ResolveStatus
	if action == docsync.ActionResolve {
		status, err = docsync.ParseResolveStatus(r.PostForm.Get("status"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var names []string
	for _, n := range r.PostForm["name"] {
		if n != "" {
			names = append(names, n)
		}
	}

	docs, err := h.svc.Execute(r.Context(), action, names, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeDocuments(w, docs, schema)
}

func (h *Handler) writeDocuments(w http.ResponseWriter, docs []docsync.Document, schema int) {
	ptrs := make([]*docsync.Document, len(docs))
	for i := range docs {
		ptrs[i] = &docs[i]
	}

	body, err := docsync.EncodeDocuments(ptrs, schema)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, syncerr.ErrDocumentNotFound):
		code = http.StatusNotFound
	case IsClientError(err):
		code = http.StatusBadRequest
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		code = http.StatusServiceUnavailable
	}

	if code == http.StatusInternalServerError {
		h.logger.Error("endpoint request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	http.Error(w, err.Error(), code)
}

// parseSchema parses the schema parameter. Empty selects the named schema.
func parseSchema(v string) (int, bool) {
	if v == "" {
		return docsync.SchemaNamed, true
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}

	switch n {
	case docsync.SchemaPositional, docsync.SchemaPositionalStatus, docsync.SchemaNamed:
		return n, true
	}

	return 0, false
}
