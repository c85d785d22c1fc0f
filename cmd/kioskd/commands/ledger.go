package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"kioskd/internal/domain"
	"kioskd/internal/ledger"
)

// NewLedgerCommand returns the ledger subcommand.
func NewLedgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Inspect and adjust stock ledgers",
		Commands: []*cli.Command{
			{
				Name:      "total",
				Usage:     "Print the current total",
				ArgsUsage: "[ledger]",
				Action:    runLedgerTotal,
			},
			{
				Name:      "history",
				Usage:     "List entries, newest first",
				ArgsUsage: "[ledger]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Entries to show (0 = all)"},
				},
				Action: runLedgerHistory,
			},
			{
				Name:      "adjust",
				Usage:     "Append an add/remove/set/reset entry",
				ArgsUsage: "[ledger]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Required: true, Usage: "add, remove, set or reset"},
					&cli.Int64Flag{Name: "amount", Usage: "Amount (not needed for reset)"},
					&cli.StringFlag{Name: "employee", Aliases: []string{"e"}, Required: true, Usage: "Employee making the change"},
					&cli.StringFlag{Name: "note", Usage: "Free-text note"},
				},
				Action: runLedgerAdjust,
			},
			{
				Name:      "undo",
				Usage:     "Remove the most recent entry",
				ArgsUsage: "[ledger]",
				Action:    runLedgerUndo,
			},
		},
		DefaultCommand: "total",
	}
}

func runLedgerTotal(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ledgerName(cmd, a.Ledger())
	total, err := a.Ledger().Total(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d\n", name, total)
	return nil
}

func runLedgerHistory(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ledgerName(cmd, a.Ledger())
	entries, err := a.Ledger().History(ctx, name, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("Ledger %s has no entries.\n", name)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tEMPLOYEE\tACTION\tAMOUNT\tDELTA\tTOTAL\tNOTE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%+d\t%d\t%s\n",
			e.Seq, e.Timestamp.Local().Format(time.DateTime), e.Employee, e.Action, e.Amount, e.Delta, e.TotalAfter, e.Note)
	}
	return w.Flush()
}

func runLedgerAdjust(ctx context.Context, cmd *cli.Command) error {
	action, err := domain.ParseAction(cmd.String("action"))
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	req := ledger.AdjustRequest{
		Ledger:   ledgerName(cmd, a.Ledger()),
		Action:   action,
		Employee: cmd.String("employee"),
		Note:     cmd.String("note"),
	}
	if cmd.IsSet("amount") {
		n := cmd.Int64("amount")
		req.Amount = &n
	}
	entry, err := a.Ledger().Adjust(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s %d -> total %d\n", entry.Ledger, entry.Action, entry.Amount, entry.TotalAfter)
	return nil
}

func runLedgerUndo(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ledgerName(cmd, a.Ledger())
	total, err := a.Ledger().UndoLast(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("%s: last entry undone, total %d\n", name, total)
	return nil
}

func ledgerName(cmd *cli.Command, eng *ledger.Engine) string {
	if name := cmd.Args().First(); name != "" {
		return name
	}
	return eng.Default()
}
