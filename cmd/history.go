package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/observability"
	"github.com/xkilldash9x/tablebook/internal/store"
)

// runHistory is the read side of the run journal.
type runHistory interface {
	Recent(ctx context.Context, limit int) ([]store.RunSummary, error)
}

var openHistory = func(ctx context.Context, databaseURL string, logger *zap.Logger) (runHistory, func(), error) {
	s, closeFn, err := store.Open(ctx, databaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, closeFn, nil
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent reservation runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Store.PostgresURL == "" {
				return failure.Newf(failure.KindConfiguration, "store.postgres_url is not configured (TABLEBOOK_DATABASE_URL)")
			}

			h, closeFn, err := openHistory(cmd.Context(), cfg.Store.PostgresURL, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open run journal: %w", err)
			}
			defer closeFn()

			runs, err := h.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATE\tSTARTED\tDURATION\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.RunID, r.State, r.StartedAt.Local().Format(time.DateTime),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.ErrorKind)
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return historyCmd
}
