package commands

import (
	"encoding/json"
	"io"

	"github.com/urfave/cli/v3"

	"kioskd/internal/app"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "kioskd",
		Usage: "Kiosk chore rotation and stock ledger daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (JSON or YAML)",
				Sources: cli.EnvVars("KIOSKD_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewRunOnceCommand(),
			NewLedgerCommand(),
			NewConfigCommand(),
		},
	}
}

func openApp(cmd *cli.Command) (*app.App, error) {
	return app.New(app.Options{ConfigPath: cmd.String("config")})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
