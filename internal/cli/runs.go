package cli

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ditkit/ditreport/internal/history"
)

func newRunsCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recent runs, or show one run and its failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.config()
			if err != nil {
				return err
			}
			database, repo, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := repo.GetRun(ctx, args[0])
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no run with id %q", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, titleStyle.Render(run.ID))
				fmt.Fprintln(out, kv("kind    ", run.Kind))
				fmt.Fprintln(out, kv("status  ", statusText(run)))
				fmt.Fprintln(out, kv("progress", fmt.Sprintf("%d%%", run.Progress)))
				fmt.Fprintln(out, kv("units   ", fmt.Sprint(run.Units)))
				fmt.Fprintln(out, kv("started ", humanize.Time(run.CreatedAt)))
				if run.FilePath != "" {
					fmt.Fprintln(out, kv("artifact", run.FilePath))
				}
				if run.Error != "" {
					fmt.Fprintln(out, kv("error   ", errorStyle.Render(run.Error)))
				}
				failures, err := repo.ListFailures(ctx, run.ID)
				if err != nil {
					return err
				}
				for _, f := range failures {
					fmt.Fprintf(out, "  %s %s %s %s\n", f.Timeline, f.Clip, mutedStyle.Render(f.Timecode), errorStyle.Render(f.Reason))
				}
				return nil
			}

			runs, err := repo.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no runs yet"))
				return nil
			}
			fmt.Fprintln(out, titleStyle.Render(
				padRight("ID", 38)+padRight("KIND", 12)+padRight("STATUS", 24)+padRight("STARTED", 18)+"ARTIFACT"))
			for _, run := range runs {
				fmt.Fprintln(out,
					padRight(run.ID, 38)+
						padRight(run.Kind, 12)+
						padRight(statusText(run), 24)+
						padRight(humanize.Time(run.CreatedAt), 18)+
						run.FilePath)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	return cmd
}

func statusText(run *history.Run) string {
	switch {
	case run.Status == history.StatusCompleted && run.FailureCount > 0:
		return warnStyle.Render(fmt.Sprintf("completed (%d failed)", run.FailureCount))
	case run.Status == history.StatusCompleted:
		return okStyle.Render(run.Status)
	case run.Status == history.StatusFailed:
		return errorStyle.Render(run.Status)
	case run.Status == history.StatusRunning:
		return fmt.Sprintf("%s %d%%", run.Status, run.Progress)
	}
	return run.Status
}
