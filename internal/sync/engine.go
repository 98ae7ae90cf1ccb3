package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/njoerd114/socialsync/internal/model"
)

// Trigger is the scheduler-facing surface of [Plugin] the Engine drives.
type Trigger interface {
	Templates() []string
	StartSync(ctx context.Context, name string) model.TriggerResult
	Wait(ctx context.Context, name string) (model.PassResult, bool)
	Shutdown(ctx context.Context)
}

// Engine is the polling scheduler: every poll interval it triggers each
// template profile. Create one with [NewEngine] and start it with
// [Engine.Run].
type Engine struct {
	plugin       Trigger
	pollInterval time.Duration
	log          *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(plugin Trigger, pollInterval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{plugin: plugin, pollInterval: pollInterval, log: logger}
}

// trigger starts every template profile that is not already running.
func (e *Engine) trigger(ctx context.Context) []string {
	var started []string
	for _, name := range e.plugin.Templates() {
		switch r := e.plugin.StartSync(ctx, name); r {
		case model.Triggered:
			started = append(started, name)
		case model.Busy:
			e.log.Info("previous pass still running, skipping", "profile", name)
		default:
			e.log.Warn("sync not triggered", "profile", name, "result", r)
		}
	}
	return started
}

// RunOnce triggers every template profile and waits for all passes to
// finish.
func (e *Engine) RunOnce(ctx context.Context) []model.PassResult {
	var results []model.PassResult
	for _, name := range e.trigger(ctx) {
		if res, ok := e.plugin.Wait(ctx, name); ok {
			results = append(results, res)
		}
	}
	return results
}

// Run starts the polling loop. It blocks until ctx is cancelled, then
// aborts running passes.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	e.trigger(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			e.plugin.Shutdown(shutdownCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			e.trigger(ctx)
		}
	}
}
