package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/maxdollinger/unistage/internal/journal"
)

var errNoJournal = errors.New("no journal configured, set journal in the board file")

func journalCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "inspect the record of past boot runs",
	}
	cmd.AddCommand(journalListCommand(a))
	cmd.AddCommand(journalShowCommand(a))
	cmd.AddCommand(journalPruneCommand(a))
	return cmd
}

// withJournal opens the configured journal for the duration of fn.
func withJournal(cmd *cobra.Command, a *app, fn func(db *sql.DB) error) error {
	if a.cfg.Journal == "" {
		return errNoJournal
	}
	db, err := journal.Open(cmd.Context(), a.cfg.Journal)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func journalListCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, a, func(db *sql.DB) error {
				runs, err := journal.ListRuns(cmd.Context(), db, limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func journalShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "show a run and the assets it staged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, a, func(db *sql.DB) error {
				ctx := cmd.Context()
				run, err := journal.GetRunByID(ctx, db, args[0])
				if err != nil {
					return err
				}
				assets, err := journal.ListAssetsByRunID(ctx, db, run.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				printRuns(out, []*journal.Run{run})
				fmt.Fprintln(out)
				printAssets(out, assets)
				return nil
			})
		},
	}
}

func journalPruneCommand(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "delete runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, a, func(db *sql.DB) error {
				n, err := journal.PruneRuns(cmd.Context(), db, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the runs to delete")
	return cmd
}

func printRuns(w io.Writer, runs []*journal.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Board", "Started", "Domain", "Exit", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, r := range runs {
		domid, exit, errText := "-", "-", ""
		if r.DomainID != nil {
			domid = strconv.Itoa(*r.DomainID)
		}
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		if r.Error != nil {
			errText = *r.Error
		}
		table.Append([]string{r.ID, r.Board, humanize.Time(r.StartedAt), domid, exit, errText})
	}

	table.Render()
}

func printAssets(w io.Writer, assets []*journal.Asset) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Asset", "Size", "Digest", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, asset := range assets {
		errText := ""
		if asset.Error != nil {
			errText = *asset.Error
		}
		table.Append([]string{asset.Name, humanize.IBytes(uint64(asset.Bytes)), asset.Digest, errText})
	}

	table.Render()
}
