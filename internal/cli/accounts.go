package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/setup"
)

func newAccountsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage provider accounts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add",
			Short: "Register an account interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(o)
				if err != nil {
					return err
				}
				defer a.Close()
				wiz := setup.NewWizard(o.in, o.out, a.log)
				_, err = wiz.AddAccount(cmd.Context(), a.cfg, a.store, a.keys)
				return err
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List registered accounts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(o)
				if err != nil {
					return err
				}
				defer a.Close()
				accts, err := a.store.AllAccounts(cmd.Context())
				if err != nil {
					return err
				}
				if len(accts) == 0 {
					printWarning(o.out, "no accounts; run 'socialsync accounts add'")
					return nil
				}
				printSection(o.out, "Accounts")
				for _, acct := range accts {
					printLabelValue(o.out, acct.ID.String(), acct.Provider+"  "+acct.State.String()+"  "+strings.Join(acct.Services, ","))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove an account; its local data is purged on the next pass",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := model.ParseAccountID(args[0])
				if err != nil {
					return err
				}
				a, err := openApp(o)
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.store.RemoveAccount(cmd.Context(), id); err != nil {
					return err
				}
				printSuccess(o.out, "removed account %s", id)
				return nil
			},
		},
	)
	return cmd
}
