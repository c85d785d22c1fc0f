package commands

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"
)

// NewRunOnceCommand returns the run-once subcommand.
func NewRunOnceCommand() *cli.Command {
	return &cli.Command{
		Name:   "run-once",
		Usage:  "Execute a single scheduler pass and print the result",
		Action: runOnce,
	}
}

func runOnce(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.RunOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}
