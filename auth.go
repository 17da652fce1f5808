package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/bobuk/calblock/internal/app"
)

func newAuthCmd(c *cli) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "auth <account>",
		Short: "Authorize a Google account",
		Long: `Obtain an OAuth token for a Google account and store it in the database.

The command prints a consent URL; open it, grant access and paste the code
it shows. Calendars added with --account <account> use the stored token,
which is refreshed automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			account := args[0]
			out := cmd.OutOrStdout()

			if forget {
				if err := a.Tokens.Delete(cmd.Context(), account); err != nil {
					return err
				}
				fmt.Fprintf(out, "🗑  Token for %s removed\n", account)
				return nil
			}

			conf := a.Providers.OAuth()
			if conf == nil {
				return fmt.Errorf("google client_id and client_secret are not configured")
			}

			authURL := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

			var code string
			if _, err := fmt.Fscan(cmd.InOrStdin(), &code); err != nil {
				return fmt.Errorf("read authorization code: %w", err)
			}
			token, err := conf.Exchange(cmd.Context(), strings.TrimSpace(code))
			if err != nil {
				return fmt.Errorf("retrieve token from web: %w", err)
			}
			if err := a.Tokens.Save(cmd.Context(), account, token); err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ Token for %s saved\n", account)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&forget, "forget", false, "Remove the stored token instead")
	return cmd
}
