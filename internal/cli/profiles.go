package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProfilesCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect sync profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored profiles with their last result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(o)
			if err != nil {
				return err
			}
			defer a.Close()
			return printProfiles(cmd, a)
		},
	})
	return cmd
}

func printProfiles(cmd *cobra.Command, a *app) error {
	w := cmd.OutOrStdout()
	profiles, err := a.store.Profiles(cmd.Context())
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		printWarning(w, "no profiles yet; they are created by the first pass")
		return nil
	}
	printSection(w, "Profiles")
	for _, p := range profiles {
		result := p.LastResult
		if result == "" {
			result = "-"
		} else if p.LastCode != "" && p.LastCode != "no_error" {
			result += " (" + p.LastCode + ")"
		}
		enabled := "enabled"
		if !p.Enabled {
			enabled = "disabled"
		}
		_, _ = fmt.Fprintf(w, "  %-28s %-9s %-32s %s\n", p.Name(), enabled, result, formatTime(p.LastFinished))
	}
	return nil
}
