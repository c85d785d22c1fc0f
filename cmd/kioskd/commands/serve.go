package commands

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and management API until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "Upper bound for graceful shutdown",
				Value: 15 * time.Second,
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cmd.Duration("shutdown-timeout"))
	defer cancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}
