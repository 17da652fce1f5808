package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
	"github.com/bobuk/calblock/internal/model"
)

func newAddCmd(c *cli) *cobra.Command {
	var (
		kind     string
		account  string
		server   string
		remoteID string
		color    string
		block    bool
		receive  bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a calendar",
		Long: `Register a local, Google or CalDAV calendar.

Remote calendars are checked for access before they are stored. Google
calendars need a token for --account (see "calblock auth"); CalDAV calendars
use a server from the caldav_servers section of the config file.`,
		Example: `  calblock add Work --blocking --receive
  calblock add Personal --kind google --account me@example.com --calendar primary --receive
  calblock add Team --kind caldav --server fastmail --calendar /dav/calendars/user/me/team/ --blocking`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			cal := model.Calendar{
				Name:           args[0],
				Kind:           model.Kind(strings.ToLower(kind)),
				Color:          color,
				RemoteID:       remoteID,
				EnableBlocking: block,
				ReceiveBlocks:  receive,
			}

			switch cal.Kind {
			case model.KindGoogle:
				cal.ProviderConfig = account
			case model.KindCalDAV:
				name, err := pickServer(a, server)
				if err != nil {
					return err
				}
				cal.ProviderConfig = name
			}

			added, err := a.Engine.AddCalendar(cmd.Context(), cal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s calendar %s added with id %s\n", strings.ToUpper(string(added.Kind)), added.Name, added.ID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&kind, "kind", string(model.KindLocal), "Calendar kind: local, google or caldav")
	cmd.Flags().StringVar(&account, "account", "", "Google account name the OAuth token is stored under")
	cmd.Flags().StringVar(&server, "server", "", "CalDAV server key from the config file")
	cmd.Flags().StringVar(&remoteID, "calendar", "", "Google calendar id or CalDAV collection path")
	cmd.Flags().StringVar(&color, "color", "", "Display color")
	cmd.Flags().BoolVar(&block, "blocking", false, "Mirror this calendar's events onto receiving calendars")
	cmd.Flags().BoolVar(&receive, "receive", false, "Receive mirrors from calendars with blocking enabled")
	return cmd
}

// pickServer resolves the CalDAV server key. With a single server
// configured the flag may be omitted.
func pickServer(a *app.App, name string) (string, error) {
	servers := a.Config.CalDAVs
	if len(servers) == 0 {
		return "", fmt.Errorf("no CalDAV servers configured; add a [caldav_servers.<name>] section")
	}
	if name != "" {
		if _, ok := servers[name]; !ok {
			return "", fmt.Errorf("CalDAV server '%s' not found in configuration", name)
		}
		return name, nil
	}
	if len(servers) == 1 {
		for key := range servers {
			return key, nil
		}
	}

	keys := make([]string, 0, len(servers))
	for key, s := range servers {
		keys = append(keys, fmt.Sprintf("%s (%s, %s)", key, s.DisplayName(key), s.ServerURL))
	}
	sort.Strings(keys)
	return "", fmt.Errorf("several CalDAV servers configured, pick one with --server: %s", strings.Join(keys, ", "))
}
