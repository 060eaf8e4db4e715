package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show media pool statistics for the open project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			eng, err := a.engine(true)
			if err != nil {
				return err
			}
			p, err := eng.Project(cmd.Context())
			if err != nil {
				return err
			}

			lines := []string{
				titleStyle.Render(p.Name),
				kv("Video clips", humanize.Comma(int64(p.Stats.Video))),
				kv("Audio clips", humanize.Comma(int64(p.Stats.Audio))),
				kv("Other items", humanize.Comma(int64(p.Stats.Other))),
				kv("Timelines  ", humanize.Comma(int64(p.Stats.Timelines))),
				kv("Media size ", humanize.Bytes(uint64(max(p.Stats.TotalSize, 0)))),
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), panelStyle.Render(strings.Join(lines, "\n")))
			return err
		},
	}
}
