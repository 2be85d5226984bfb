package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

// HTTPError is a non-2xx endpoint response. Message is the response text,
// which the orchestrator stores as the document error.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("endpoint returned %d", e.StatusCode)
	}

	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return syncerr.ErrEndpointResponse
}

// ClientConfig configures a Client.
type ClientConfig struct {
	URL      string
	Username string
	Password string
	// FormToken is a static anti-forgery token. When empty the client
	// fetches one from the endpoint.
	FormToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls a remote synchronization endpoint. It implements
// docsync.Remote.
type Client struct {
	http   *resty.Client
	url    string
	logger *slog.Logger

	mu        sync.RWMutex
	formToken string
}

var _ docsync.Remote = (*Client)(nil)

// NewClient creates a Client for the endpoint at cfg.URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint URL %q", cfg.URL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}

	rc.SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	if cfg.Username != "" {
		rc.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &Client{
		http:      rc,
		url:       strings.TrimRight(cfg.URL, "/"),
		logger:    cfg.Logger,
		formToken: strings.TrimSpace(cfg.FormToken),
	}, nil
}

// FormToken returns the anti-forgery token in use, or "".
func (c *Client) FormToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.formToken
}

// SetFormToken replaces the anti-forgery token.
func (c *Client) SetFormToken(token string) {
	c.mu.Lock()
	c.formToken = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Load fetches every record and the form token that authorizes later
// actions.
func (c *Client) Load(ctx context.Context) ([]docsync.Document, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("schema", strconv.Itoa(docsync.SchemaNamed)).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrEndpointRequest, err)
	}

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	if token := resp.Header().Get(FormTokenHeader); token != "" {
		c.SetFormToken(token)
	}

	return docsync.DecodeDocuments(resp.Body())
}

// RefreshAll asks the endpoint to rescan every page and returns the full
// record list.
func (c *Client) RefreshAll(ctx context.Context) ([]docsync.Document, error) {
	return c.post(ctx, url.Values{"action": {string(docsync.ActionRefresh)}})
}

// Sync runs a push, pull or refresh for one document.
func (c *Client) Sync(ctx context.Context, name string, action docsync.Action) ([]docsync.Document, error) {
	if action == docsync.ActionResolve {
		return nil, fmt.Errorf("%w: resolve requires a status", syncerr.ErrUnsupportedAction)
	}

	return c.post(ctx, url.Values{
		"name":   {name},
		"action": {string(action)},
	})
}

// Resolve applies a resolve status to several documents in one request.
func (c *Client) Resolve(ctx context.Context, names []string, status docsync.ResolveStatus) ([]docsync.Document, error) {
	if len(names) == 0 {
		return nil, syncerr.ErrMissingDocumentArg
	}

	return c.post(ctx, url.Values{
		"name":   names,
		"action": {string(docsync.ActionResolve)},
		"status": {string(status)},
	})
}

// post sends an action once. A rejected form token is replaced for later
// requests, but the rejected action is reported and not re-sent.
func (c *Client) post(ctx context.Context, form url.Values) ([]docsync.Document, error) {
	if c.FormToken() == "" {
		if err := c.fetchFormToken(ctx); err != nil {
			return nil, err
		}
	}

	docs, err := c.postOnce(ctx, form)

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusForbidden {
		c.logger.Debug("form token rejected, fetching a new one")

		if tokenErr := c.fetchFormToken(ctx); tokenErr != nil {
			c.logger.Warn("fetching form token", slog.String("error", tokenErr.Error()))
		}
	}

	return docs, err
}

func (c *Client) postOnce(ctx context.Context, form url.Values) ([]docsync.Document, error) {
	values := url.Values{}
	for k, v := range form {
		values[k] = v
	}

	values.Set(FormTokenField, c.FormToken())
	values.Set("schema", strconv.Itoa(docsync.SchemaNamed))

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormDataFromValues(values).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrEndpointRequest, err)
	}

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	return docsync.DecodeDocuments(resp.Body())
}

func (c *Client) fetchFormToken(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("name", "").
		Get(c.url)
	if err != nil {
		return fmt.Errorf("%w: %w", syncerr.ErrEndpointRequest, err)
	}

	if err := checkResponse(resp); err != nil {
		return err
	}

	token := resp.Header().Get(FormTokenHeader)
	if token == "" {
		return fmt.Errorf("%w: no form token in response", syncerr.ErrEndpointResponse)
	}

	c.SetFormToken(token)

	return nil
}

func checkResponse(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	msg := strings.TrimSpace(string(resp.Body()))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}

	return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
}
