// Package cli implements the socialsync command line.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/telemetry"
)

// options carries the global flags and I/O shared by every command.
type options struct {
	configPath string
	verbose    bool
	version    string

	in  io.Reader
	out io.Writer
	err io.Writer
}

// logger returns a text logger on stderr, mirrored to OpenTelemetry.
func (o *options) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(o.err, &slog.HandlerOptions{Level: level})
	return slog.New(telemetry.NewHandler(h))
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	o := &options{version: version, in: os.Stdin, out: os.Stdout, err: os.Stderr}

	root := &cobra.Command{
		Use:     "socialsync",
		Version: version,
		Short:   "Synchronise social network data into a local store",
		Long: `socialsync keeps a local copy of contacts, calendars and notifications
from Facebook, Google, Twitter and VK in step with the remote services.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			o.in = cmd.InOrStdin()
			o.out = cmd.OutOrStdout()
			o.err = cmd.ErrOrStderr()
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	defaultCfg, _ := config.DefaultPath()
	root.PersistentFlags().StringVar(&o.configPath, "config", defaultCfg, "path to config.yaml")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronisation:"},
		&cobra.Group{ID: "manage", Title: "Management:"},
	)

	for _, c := range []*cobra.Command{newDaemonCmd(o), newSyncOnceCmd(o), newStatusCmd(o)} {
		c.GroupID = "sync"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newInitCmd(o), newAccountsCmd(o), newProfilesCmd(o)} {
		c.GroupID = "manage"
		root.AddCommand(c)
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the socialsync version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = io.WriteString(cmd.OutOrStdout(), version+"\n")
		},
	})
	return root
}

// Execute runs the command line with os.Args.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}
