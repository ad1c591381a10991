package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vpnda/sandwich-aggregate/pkg/services"
)

func newLinkCmds() []*cobra.Command {
	var (
		clientID string
		req      services.LinkRequest
	)

	linkCmd := &cobra.Command{
		Use:   "link <bank> <account_number>",
		Short: "Link an account the bank API does not list",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			req.Bank, req.AccountNumber = args[0], args[1]
			account, err := a.links.Link(clientID, req)
			if err != nil {
				return err
			}
			fmt.Printf("Linked %s (%s)\n", account.ID, account.Nickname)
			return nil
		}),
	}
	linkCmd.Flags().StringVar(&req.AccountID, "account-id", "", "Id the bank uses for this account, if it differs from the number")
	linkCmd.Flags().StringVar(&req.Nickname, "nickname", "", "Display name")

	unlinkCmd := &cobra.Command{
		Use:   "unlink <id>",
		Short: "Remove a linked account",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			removed, err := a.links.Unlink(clientID, args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("linked account %s not found", args[0])
			}
			log.Info().Str("id", args[0]).Msg("Account unlinked successfully")
			return nil
		}),
	}

	linksCmd := &cobra.Command{
		Use:   "links",
		Short: "List linked accounts",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			accounts, err := a.links.Linked(clientID)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("No linked accounts found")
				return nil
			}

			fmt.Printf("Found %d linked accounts:\n\n", len(accounts))
			fmt.Printf("%-30s %-8s %-20s %-25s %-20s %-7s\n", "ID", "Bank", "Number", "Nickname", "Linked At", "Active")
			fmt.Println(strings.Repeat("-", 115))
			for _, l := range accounts {
				fmt.Printf("%-30s %-8s %-20s %-25s %-20s %-7t\n",
					truncate(l.ID, 30),
					l.Bank,
					truncate(l.AccountNumber, 20),
					truncate(l.Nickname, 25),
					l.LinkedAt.Format("2006-01-02 15:04"),
					l.Active)
			}
			return nil
		}),
	}

	cmds := []*cobra.Command{linkCmd, unlinkCmd, linksCmd}
	for _, cmd := range cmds {
		cmd.Flags().StringVarP(&clientID, "client", "c", "", "Client ID")
		_ = cmd.MarkFlagRequired("client")
	}
	return cmds
}
