package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"kioskd/internal/app"
	"kioskd/internal/config"
)

// NewConfigCommand returns the config subcommand.
func NewConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration helpers",
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Parse and validate the config file",
				Action: runConfigCheck,
			},
		},
	}
}

func runConfigCheck(_ context.Context, cmd *cli.Command) error {
	path := strings.TrimSpace(cmd.String("config"))
	if path == "" {
		return fmt.Errorf("usage: kioskd --config <path> config check")
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	res, err := app.ValidateConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", path, err)
	}
	fmt.Printf("%s: ok (storage=%s scheduler=%t tick=%s http=%t ledger=%s)\n",
		path, res.Storage.Driver, res.Scheduler.Enabled, res.Scheduler.Tick, res.HTTP.Enabled, res.Ledger.Default)
	return nil
}
