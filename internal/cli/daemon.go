package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/socialsync/internal/model"
	syncp "github.com/njoerd114/socialsync/internal/sync"
	"github.com/njoerd114/socialsync/internal/telemetry"
)

func newDaemonCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync every profile on the poll interval until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), o, true, "")
		},
	}
}

func newSyncOnceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once [profile]",
		Short: "Run one pass of every template profile, or of the named profile",
		Long: `Run one sync pass then exit. Profile names are <provider>-<datatype>,
e.g. facebook-contacts, or <provider>-<datatype>-<account> for a single account.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var profile string
			if len(args) == 1 {
				profile = args[0]
			}
			return runSync(cmd.Context(), o, false, profile)
		},
	}
}

// runSync is shared by daemon and sync-once.
func runSync(parent context.Context, o *options, daemon bool, profile string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := openApp(o)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	shutdownTel, err := telemetry.Setup(ctx, a.cfg.Telemetry, o.version)
	if err != nil {
		log.Error("telemetry setup failed, continuing without telemetry", "error", err)
	} else if a.cfg.Telemetry != nil {
		log.Info("telemetry enabled", "endpoint", a.cfg.Telemetry.OTLPEndpoint)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTel(flushCtx); err != nil {
			log.Error("telemetry shutdown error", "error", err)
		}
	}()

	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}
	plugin, err := a.plugin(pub)
	if err != nil {
		return err
	}
	a.watchKeys(ctx)
	engine := syncp.NewEngine(plugin, a.cfg.PollInterval, log.With("component", "engine"))

	if daemon {
		log.Info("daemon starting", "poll_interval", a.cfg.PollInterval, "profiles", plugin.Templates())
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	}

	var results []model.PassResult
	if profile == "" {
		results = engine.RunOnce(ctx)
	} else {
		if r := plugin.StartSync(ctx, profile); r != model.Triggered {
			return fmt.Errorf("profile %q not started: %s", profile, r)
		}
		if res, ok := plugin.Wait(ctx, profile); ok {
			results = append(results, res)
		}
	}
	plugin.Shutdown(context.WithoutCancel(ctx))

	failed := 0
	for _, r := range results {
		printResult(o.out, r)
		if r.Result != model.ResultSuccess {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d profile(s) failed", failed, len(results))
	}
	return nil
}
