package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/setup"
)

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, accounts and last results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := o.out
			printSection(w, "socialsync status")

			if _, err := os.Stat(o.configPath); err != nil {
				printLabelValue(w, "Config", "not found ("+o.configPath+")")
				printWarning(w, "run 'socialsync init' to create one")
				return nil
			}
			a, err := openApp(o)
			if err != nil {
				printLabelValue(w, "Config", fmt.Sprintf("%s (invalid: %v)", o.configPath, err))
				return nil
			}
			defer a.Close()

			var enabled []string
			for name := range a.cfg.Providers {
				if _, ok := a.cfg.Provider(name); ok {
					enabled = append(enabled, name)
				}
			}
			slices.Sort(enabled)

			printLabelValue(w, "Config", o.configPath)
			printLabelValue(w, "State DB", a.cfg.StateDB)
			printLabelValue(w, "Keystore", a.cfg.KeystorePath)
			printLabelValue(w, "Providers", fmt.Sprint(enabled))
			printLabelValue(w, "Poll", a.cfg.PollInterval.String())
			backend := a.cfg.Notifications.Backend
			if backend == config.BackendHomeAssistant {
				backend += " " + a.cfg.Notifications.HAURL
			}
			printLabelValue(w, "Notify", backend)

			accts, err := a.store.AllAccounts(cmd.Context())
			if err != nil {
				return err
			}
			printLabelValue(w, "Accounts", fmt.Sprint(len(accts)))
			return printProfiles(cmd, a)
		},
	}
}

func newInitCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setup.NewWizard(o.in, o.out, o.logger()).Init(cmd.Context(), o.configPath)
		},
	}
}
