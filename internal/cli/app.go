package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/notify"
	"github.com/njoerd114/socialsync/internal/provider"
	"github.com/njoerd114/socialsync/internal/state"
	syncp "github.com/njoerd114/socialsync/internal/sync"
)

// app holds the long-lived dependencies opened from the config file.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *state.Store
	keys  *keystore.File
	creds *keystore.Credentials
}

func openApp(o *options) (*app, error) {
	log := o.logger()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", o.configPath, err)
	}
	log.Debug("config loaded", "path", o.configPath, "providers", len(cfg.Providers), "poll_interval", cfg.PollInterval)

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("opening state DB at %q: %w", cfg.StateDB, err)
	}
	log.Debug("state DB opened", "path", cfg.StateDB)

	keys := keystore.Open(cfg.KeystorePath, log.With("component", "keystore"))
	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		keys:  keys,
		creds: keystore.NewCredentials(keys, log.With("component", "credentials")),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("closing state DB", "error", err)
	}
}

// publisher returns the configured notification backend. A Home Assistant
// backend is pinged first so a bad URL or token fails at startup.
func (a *app) publisher(ctx context.Context) (notify.Publisher, error) {
	nc := a.cfg.Notifications
	if nc.Backend != config.BackendHomeAssistant {
		return notify.NewLogPublisher(a.log.With("component", "notify")), nil
	}
	pub, err := notify.NewHomeAssistantPublisher(nc.HAURL, nc.HAToken, a.log.With("component", "notify"))
	if err != nil {
		return nil, fmt.Errorf("initialising Home Assistant client: %w", err)
	}
	a.log.Info("pinging Home Assistant", "url", nc.HAURL)
	if err := pub.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to Home Assistant at %q: %w", nc.HAURL, err)
	}
	return pub, nil
}

// plugin wires one orchestrator per enabled provider adaptor.
func (a *app) plugin(pub notify.Publisher) (*syncp.Plugin, error) {
	entries, err := provider.Build(a.cfg, provider.Deps{
		Records:   a.store,
		Expirer:   a.store,
		Publisher: pub,
		Logger:    a.log,
	}, nil)
	if err != nil {
		return nil, err
	}

	orchs := make([]*syncp.Orchestrator, 0, len(entries))
	for _, e := range entries {
		orchs = append(orchs, syncp.NewOrchestrator(e.Adaptor, syncp.Options{
			Accounts:    a.store,
			Records:     a.store,
			Credentials: a.creds,
			Issuer:      e.Gateway,
			SignInWait:  a.cfg.RequestTimeout,
			Logger:      a.log,
		}))
	}

	onStatus := func(name string, st model.Status, res *model.PassResult) {
		if res == nil {
			a.log.Debug("profile status", "profile", name, "status", st)
			return
		}
		a.log.Info("profile status", "profile", name, "status", st, "result", res.Result, "code", res.Code)
	}
	return syncp.NewPlugin(orchs, a.store, onStatus, a.log.With("component", "plugin")), nil
}

// watchKeys drops cached credentials whenever the keystore file changes.
func (a *app) watchKeys(ctx context.Context) {
	go func() {
		if err := a.keys.Watch(ctx, a.creds.Invalidate); err != nil {
			a.log.Warn("keystore watch stopped", "path", a.keys.Path(), "error", err)
		}
	}()
}
