package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyaverett/mcp-agent/internal/store"
)

func newRunsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openJournal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.journal.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTRIGGER\tSTATE\tSTRATEGY\tDURATION\tTASK")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Trigger, r.State,
					dash(r.Strategy), r.Duration.Round(time.Millisecond), truncate(r.Task, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one run and its events as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openJournal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.journal.GetRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %q not found", args[0])
			}
			if err != nil {
				return err
			}
			events, err := a.journal.Events(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(struct {
				*store.Run
				Events []store.RunEvent `json:"events"`
			}{r, events}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(opts.stdout, "%s\n", out)
			return err
		},
	})
	return cmd
}

func openJournal(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if cfg.Journal.DSN == "" {
		return nil, fmt.Errorf("journal is not configured (set journal.dsn)")
	}
	return newApp(cmd.Context(), cfg, opts.stderr, appOptions{journalOnly: true})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
