package e2e_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/endpoint"
	"github.com/alexjbarnes/wikisync/internal/mcpserver"
	"github.com/alexjbarnes/wikisync/internal/pagestore"
	"github.com/alexjbarnes/wikisync/internal/server"
	"github.com/alexjbarnes/wikisync/internal/session"
	"github.com/alexjbarnes/wikisync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUsername = "operator"
	testPassword = "operator-pass"
	testUserID   = "e2e-agent"
)

// harness holds the full e2e test stack: the sync endpoint behind basic
// auth, the event feed and the MCP tools, all served by server.NewMux.
type harness struct {
	URL    string
	APIKey string
	Local  *pagestore.Store
	Remote *pagestore.Store
	Events *docsync.Broadcaster
	Client *http.Client
}

// newHarness seeds two page stores, wires the whole HTTP stack and starts
// an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	db, err := state.LoadAt(filepath.Join(t.TempDir(), state.ServerFile))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	local, err := pagestore.New("local", filepath.Join(t.TempDir(), "local"), db, logger)
	require.NoError(t, err)
	remote, err := pagestore.New("remote", filepath.Join(t.TempDir(), "remote"), db, logger)
	require.NoError(t, err)

	seed := map[*pagestore.Store]map[string]string{
		local: {
			"WikiStart":     "= Welcome =",
			"Guide/Install": "install steps",
		},
		remote: {
			"Guide/Usage": "usage notes",
			"Guide/FAQ":   "questions",
		},
	}
	for store, pages := range seed {
		for name, text := range pages {
			_, err := store.Write(name, text)
			require.NoError(t, err)
		}
	}

	ignore, err := docsync.NewIgnoreFilter(docsync.DefaultIgnorePatterns)
	require.NoError(t, err)

	svc := endpoint.NewService(local, remote, db, ignore, logger)

	store := auth.NewStore()
	t.Cleanup(store.Stop)

	apiKey := auth.NewAPIKey()
	store.RegisterAPIKey(testUserID, apiKey)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	users := auth.NewAuthenticator(auth.UserCredentials{testUsername: string(hash)})

	events := docsync.NewBroadcaster(64)

	sess := session.New(endpoint.NewDirect(svc), logger, session.Options{
		BatchSize: docsync.DefaultBatchSize,
		Observer:  events,
	})
	require.NoError(t, sess.Load(t.Context()))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "wikisync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, sess)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Endpoint:   endpoint.NewHandler(svc, store, logger),
		Users:      users,
		Store:      store,
		Events:     events,
		MCPHandler: mcpHandler,
		Logger:     logger,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		URL:    ts.URL,
		APIKey: apiKey,
		Local:  local,
		Remote: remote,
		Events: events,
		Client: ts.Client(),
	}
}

// operatorSession returns a session talking to the endpoint over HTTP with
// the given basic auth password.
func (h *harness) operatorSession(t *testing.T, password string) (*session.Session, *endpoint.Client) {
	t.Helper()

	client, err := endpoint.NewClient(endpoint.ClientConfig{
		URL:        h.URL + server.EndpointPath,
		Username:   testUsername,
		Password:   password,
		Timeout:    10 * time.Second,
		HTTPClient: h.Client,
	})
	require.NoError(t, err)

	return session.New(client, slog.New(slog.DiscardHandler), session.Options{
		BatchSize: docsync.DefaultBatchSize,
	}), client
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) (*mcp.ClientSession, error) {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + server.MCPPath,
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	cs, err := client.Connect(t.Context(), transport, nil)
	if err != nil {
		return nil, err
	}

	t.Cleanup(func() { _ = cs.Close() })

	return cs, nil
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// callTool calls an MCP tool and fails the test on transport errors.
func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	result, err := cs.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	return result
}

func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "tool result has no content")

	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	t.Fatal("no TextContent found in tool result")

	return ""
}
