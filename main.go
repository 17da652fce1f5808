package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/provider"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Factory options let tests replace the
// remote backends.
func newRootCmd(opts ...provider.FactoryOption) *cobra.Command {
	c := &cli{factoryOpts: opts}

	root := &cobra.Command{
		Use:   "calblock",
		Short: "Blocks time across calendars",
		Long: `calblock keeps calendars from being double-booked. An event written to a
calendar with blocking enabled is mirrored as an opaque "busy" event onto
every other calendar that receives blocks, and the mirrors follow the
event through updates and deletion.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "calblock version %s\n" .Version}}`)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to the config file (default: ./.calblock.toml, then ~/.config/calblock/.calblock.toml)")
	root.PersistentFlags().StringVar(&c.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the command")
	root.PersistentFlags().IntVarP(&c.verbosity, "verbosity", "v", -1, "Override verbosity_level from the config file")

	root.AddCommand(
		newAddCmd(c),
		newSetCmd(c),
		newListCmd(c),
		newDeleteCmd(c),
		newEventCmd(c),
		newAuthCmd(c),
		newDesyncCmd(c),
		newCleanupCmd(c),
	)
	return root
}
