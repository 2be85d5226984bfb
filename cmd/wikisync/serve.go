package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/alexjbarnes/wikisync/internal/config"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/endpoint"
	"github.com/alexjbarnes/wikisync/internal/mcpserver"
	"github.com/alexjbarnes/wikisync/internal/pagestore"
	"github.com/alexjbarnes/wikisync/internal/server"
	"github.com/alexjbarnes/wikisync/internal/session"
	"github.com/alexjbarnes/wikisync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// eventBuffer is the per-subscriber backlog of the event feed.
const eventBuffer = 64

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the synchronization endpoint",
		Long: `Serve the synchronization endpoint over two page directories.

The endpoint is guarded by basic auth when WIKISYNC_AUTH_USERS is set. With
WIKISYNC_ENABLE_MCP the sync tools are also exposed over MCP, and /events
streams page and run events to API key holders.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolvedCfg, buildLogger())
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logger.Info("wikisync starting",
		slog.String("version", version),
		slog.String("local", cfg.LocalDir),
		slog.String("remote", cfg.RemoteDir),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openState(cfg.StateDB, state.ServerFile)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer db.Close()

	local, err := pagestore.New("local", cfg.LocalDir, db, logger)
	if err != nil {
		return err
	}

	remote, err := pagestore.New("remote", cfg.RemoteDir, db, logger)
	if err != nil {
		return err
	}

	ignore, err := cfg.IgnoreFilter()
	if err != nil {
		return fmt.Errorf("loading ignore patterns: %w", err)
	}

	svc := endpoint.NewService(local, remote, db, ignore, logger)

	store := auth.NewStore()
	defer store.Stop()

	keys, err := cfg.ParseAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing API keys: %w", err)
	}

	for _, k := range keys {
		store.RegisterAPIKey(k.UserID, k.Key)
	}

	users, err := cfg.ParseAuthUsers()
	if err != nil {
		return fmt.Errorf("parsing auth users: %w", err)
	}

	var authn *auth.Authenticator
	if len(users) > 0 {
		authn = auth.NewAuthenticator(users)
	} else {
		logger.Warn("WIKISYNC_AUTH_USERS is empty, the endpoint accepts anonymous requests")
	}

	events := docsync.NewBroadcaster(eventBuffer)

	var mcpHandler http.Handler
	if cfg.EnableMCP {
		mcpHandler, err = newMCPHandler(ctx, svc, cfg, events, logger)
		if err != nil {
			return err
		}
	}

	handler := server.NewMux(server.MuxConfig{
		Endpoint:   endpoint.NewHandler(svc, store, logger),
		Users:      authn,
		Store:      store,
		Events:     events,
		MCPHandler: mcpHandler,
		Logger:     logger,
	})

	srv := server.NewHTTPServer(cfg.ListenAddr, handler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			slog.String("addr", cfg.ListenAddr),
			slog.Int("users", len(users)),
			slog.Int("api_keys", len(keys)),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	for _, ps := range []*pagestore.Store{local, remote} {
		g.Go(func() error {
			err := ps.Watch(gctx, func(name string) {
				events.Notify(docsync.Event{
					Kind: docsync.EventChange,
					Name: name,
					Time: time.Now(),
				})
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	return g.Wait()
}

// newMCPHandler builds the MCP tools over an in-process session that
// reports its runs to the event feed.
func newMCPHandler(ctx context.Context, svc *endpoint.Service, cfg *config.Config, events *docsync.Broadcaster, logger *slog.Logger) (http.Handler, error) {
	mcpLogger := logger.With(slog.String("service", "mcp"))

	sess := session.New(endpoint.NewDirect(svc), mcpLogger, session.Options{
		BatchSize: cfg.BatchSize,
		Observer:  events,
	})

	if err := sess.Load(ctx); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "wikisync", Version: version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, sess)

	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil), nil
}
