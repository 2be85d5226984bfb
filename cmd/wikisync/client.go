package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/wikisync/internal/config"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/endpoint"
	"github.com/alexjbarnes/wikisync/internal/session"
	"github.com/alexjbarnes/wikisync/internal/state"
)

// clientSession is a session over the HTTP endpoint plus the local state
// file that caches the form token and records runs.
type clientSession struct {
	*session.Session

	cfg    *config.Config
	client *endpoint.Client
	state  *state.State
	logger *slog.Logger
}

func openState(path, file string) (*state.State, error) {
	if path != "" {
		return state.LoadAt(path)
	}

	return state.Load(file)
}

// openClientSession connects to the configured endpoint and loads every
// document. observer may be nil.
func openClientSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, observer docsync.Observer) (*clientSession, error) {
	st, err := openState(cfg.ClientStateDB, state.ClientFile)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	client, err := endpoint.NewClient(endpoint.ClientConfig{
		URL:       cfg.Endpoint,
		Username:  cfg.Username,
		Password:  cfg.Password,
		FormToken: cfg.FormToken,
		Timeout:   cfg.Timeout,
		Logger:    logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	if cfg.FormToken == "" {
		if token := st.FormToken(); token != "" {
			logger.Debug("using cached form token")
			client.SetFormToken(token)
		}
	}

	cs := &clientSession{
		Session: session.New(client, logger, session.Options{
			BatchSize: cfg.BatchSize,
			Observer:  observer,
			Recorder:  st,
		}),
		cfg:    cfg,
		client: client,
		state:  st,
		logger: logger,
	}

	if err := cs.Load(ctx); err != nil {
		cs.Close()
		return nil, err
	}

	return cs, nil
}

// Close caches the current form token and closes the state file.
func (c *clientSession) Close() {
	if c.cfg.FormToken == "" {
		if token := c.client.FormToken(); token != "" && token != c.state.FormToken() {
			if err := c.state.SetFormToken(token); err != nil {
				c.logger.Warn("failed to save form token", slog.String("error", err.Error()))
			}
		}
	}

	c.state.Close()
}

// filterFlags are the selection flags shared by several commands.
type filterFlags struct {
	status string
	name   string
}

func (f *filterFlags) filter() (docsync.Filter, error) {
	statuses, err := docsync.ParseStatuses(f.status)
	if err != nil {
		return docsync.Filter{}, err
	}

	return docsync.Filter{Statuses: statuses, Name: f.name}, nil
}
