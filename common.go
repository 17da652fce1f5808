package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
	"github.com/bobuk/calblock/internal/blocking"
	"github.com/bobuk/calblock/internal/config"
	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/provider"
)

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath  string
	metricsFile string
	verbosity   int

	factoryOpts []provider.FactoryOption
}

// run wraps a command body: the app is opened before fn and closed after
// it, with metrics written out even when fn fails.
func (c *cli) run(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := c.open(cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, c.close(a))
		}()
		return fn(cmd, a, args)
	}
}

func (c *cli) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.verbosity >= 0 {
		cfg.General.VerbosityLevel = c.verbosity
	}
	logger := logging.New(cmd.ErrOrStderr(), logging.Options{
		Verbosity: cfg.General.VerbosityLevel,
		Format:    cfg.General.LogFormat,
	})

	return app.New(cmd.Context(), cfg, logger, c.factoryOpts...)
}

func (c *cli) close(a *app.App) error {
	var err error
	if c.metricsFile != "" {
		err = a.WriteMetrics(c.metricsFile)
	}
	return errors.Join(err, a.Close())
}

// timeLayouts are tried in order; the ones without a zone use local time.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (want RFC3339 or 2006-01-02 15:04)", s)
}

// printReport lists what went wrong with mirrors. It returns true when the
// report is clean.
func printReport(w io.Writer, rep *blocking.Report) bool {
	if rep == nil || rep.OK() {
		return true
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  ⚠️ %v\n", f)
	}
	for _, s := range rep.Skipped {
		fmt.Fprintf(w, "  ⚠️ %v\n", s)
	}
	return false
}

// confirm asks a yes/no question on the command's input. Anything but y
// or yes is a no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s (y/N): ", question)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
