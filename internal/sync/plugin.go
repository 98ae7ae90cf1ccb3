package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/njoerd114/socialsync/internal/model"
)

// StatusFunc receives status transitions of a profile. result is set for
// the final transition of a pass.
type StatusFunc func(profile string, status model.Status, result *model.PassResult)

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	result model.PassResult
}

// Plugin is the boundary the scheduler talks to. It maps profile names to
// orchestrators, expands template profiles, and refuses to start a
// profile that is already running.
type Plugin struct {
	orchs    map[string]*Orchestrator
	profiles ProfileStore
	onStatus StatusFunc
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]*run
	last    map[string]model.PassResult
}

// NewPlugin returns a Plugin over the given orchestrators. onStatus may be
// nil.
func NewPlugin(orchs []*Orchestrator, profiles ProfileStore, onStatus StatusFunc, logger *slog.Logger) *Plugin {
	m := make(map[string]*Orchestrator, len(orchs))
	for _, o := range orchs {
		m[templateFor(o.spec).Name()] = o
	}
	if onStatus == nil {
		onStatus = func(string, model.Status, *model.PassResult) {}
	}
	return &Plugin{
		orchs:    m,
		profiles: profiles,
		onStatus: onStatus,
		log:      logger,
		running:  make(map[string]*run),
		last:     make(map[string]model.PassResult),
	}
}

func templateFor(s Spec) model.Profile {
	return model.Profile{Provider: s.Provider, DataType: s.DataType, Enabled: true}
}

// Templates returns the template profile name of every orchestrator.
func (p *Plugin) Templates() []string {
	names := make([]string, 0, len(p.orchs))
	for name := range p.orchs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartSync triggers the named profile. The pass runs in the background;
// use Wait to block for its result.
func (p *Plugin) StartSync(ctx context.Context, name string) model.TriggerResult {
	prof, err := model.ParseProfileName(name)
	if err != nil {
		p.log.Error("invalid profile name", "profile", name, "error", err)
		return model.TriggerError
	}
	orch, ok := p.orchs[model.Profile{Provider: prof.Provider, DataType: prof.DataType}.Name()]
	if !ok {
		p.log.Error("no adaptor for profile", "profile", name)
		return model.TriggerError
	}

	stored, err := p.profiles.Profile(ctx, name)
	if err != nil {
		p.log.Error("loading profile", "profile", name, "error", err)
		return model.TriggerError
	}
	if stored == nil {
		if err := p.profiles.SaveProfile(ctx, prof); err != nil {
			p.log.Error("creating profile", "profile", name, "error", err)
			return model.TriggerError
		}
		stored = &prof
	}
	if !stored.Enabled {
		p.log.Info("profile disabled, not syncing", "profile", name)
		return model.TriggerError
	}

	scope := ScopeAccount(prof.AccountID)
	if prof.IsTemplate() {
		excluded, err := p.ensurePerAccountProfiles(ctx, orch, prof)
		if err != nil {
			p.log.Error("expanding template profile", "profile", name, "error", err)
			return model.TriggerError
		}
		scope = Scope{All: true, Exclude: excluded}
	} else if orch.Busy(prof.AccountID) {
		return model.Busy
	}

	p.mu.Lock()
	if _, busy := p.running[name]; busy {
		p.mu.Unlock()
		return model.Busy
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{})}
	p.running[name] = r
	p.mu.Unlock()

	p.onStatus(name, model.StatusBusy, nil)
	p.log.Info("sync triggered", "profile", name)

	go func() {
		defer cancel()
		res := orch.Sync(runCtx, scope)
		res.Profile = name

		// The pass context may be cancelled; the result is still recorded.
		if err := p.profiles.RecordResult(context.WithoutCancel(runCtx), res); err != nil {
			p.log.Error("recording sync result", "profile", name, "error", err)
		}

		status := model.StatusInactive
		if res.Result == model.ResultFailed {
			status = model.StatusError
		}

		p.mu.Lock()
		r.result = res
		p.last[name] = res
		delete(p.running, name)
		p.mu.Unlock()
		close(r.done)

		p.onStatus(name, status, &res)
	}()
	return model.Triggered
}

// ensurePerAccountProfiles creates missing per-account profiles for every
// account enabled with the orchestrator's service. It returns the accounts
// whose profile is disabled.
func (p *Plugin) ensurePerAccountProfiles(ctx context.Context, orch *Orchestrator, tmpl model.Profile) ([]model.AccountID, error) {
	accounts, err := orch.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	var disabled []model.AccountID
	for _, a := range accounts {
		per := tmpl.ForAccount(a.ID)
		existing, err := p.profiles.Profile(ctx, per.Name())
		if err != nil {
			return nil, fmt.Errorf("loading profile %q: %w", per.Name(), err)
		}
		if existing == nil {
			if err := p.profiles.SaveProfile(ctx, per); err != nil {
				return nil, fmt.Errorf("creating profile %q: %w", per.Name(), err)
			}
			p.log.Info("created per-account profile", "profile", per.Name())
			continue
		}
		if !existing.Enabled {
			disabled = append(disabled, a.ID)
		}
	}
	return disabled, nil
}

// AbortSync cancels the named profile's running pass. It reports whether a
// pass was running.
func (p *Plugin) AbortSync(name string) bool {
	p.mu.Lock()
	r, ok := p.running[name]
	p.mu.Unlock()
	if !ok {
		return false
	}
	p.log.Info("aborting sync", "profile", name)
	r.cancel()
	return true
}

// Wait blocks until the named profile's running pass finishes and returns
// its result. If nothing is running it returns the last result, if any.
func (p *Plugin) Wait(ctx context.Context, name string) (model.PassResult, bool) {
	p.mu.Lock()
	r, running := p.running[name]
	last, hasLast := p.last[name]
	p.mu.Unlock()

	if !running {
		return last, hasLast
	}
	select {
	case <-r.done:
		return r.result, true
	case <-ctx.Done():
		return model.PassResult{}, false
	}
}

// Status returns the named profile's current status.
func (p *Plugin) Status(name string) model.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[name]; ok {
		return model.StatusBusy
	}
	if res, ok := p.last[name]; ok && res.Result == model.ResultFailed {
		return model.StatusError
	}
	return model.StatusInactive
}

// ErrAccountBusy is returned by CleanUp while the profile's account is
// part of a running pass.
var ErrAccountBusy = errors.New("account is busy")

// CleanUp removes the named profile. For a per-account profile the
// account's local data is purged as well, which is refused with
// ErrAccountBusy while a pass holds the account.
func (p *Plugin) CleanUp(ctx context.Context, name string) error {
	prof, err := model.ParseProfileName(name)
	if err != nil {
		return err
	}
	if !prof.IsTemplate() {
		orch, ok := p.orchs[model.Profile{Provider: prof.Provider, DataType: prof.DataType}.Name()]
		if !ok {
			return fmt.Errorf("no adaptor for profile %q", name)
		}
		if orch.Busy(prof.AccountID) {
			return fmt.Errorf("cleaning up %q: account %s: %w", name, prof.AccountID, ErrAccountBusy)
		}
		if err := orch.Purge(ctx, []model.AccountID{prof.AccountID}); err != nil {
			return fmt.Errorf("purging %q: %w", name, err)
		}
	}
	if err := p.profiles.DeleteProfile(ctx, name); err != nil {
		return err
	}
	p.log.Info("profile cleaned up", "profile", name)
	return nil
}

// Shutdown aborts every running pass and waits for them to finish.
func (p *Plugin) Shutdown(ctx context.Context) {
	p.mu.Lock()
	runs := make([]*run, 0, len(p.running))
	for _, r := range p.running {
		r.cancel()
		runs = append(runs, r)
	}
	p.mu.Unlock()

	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}
