package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newTimelinesCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "timelines",
		Short: "List the project's timelines",
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
			tls, err := eng.Timelines(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tls)
			}
			if len(tls) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no timelines"))
				return nil
			}

			fmt.Fprintln(out, titleStyle.Render(
				padRight("NAME", 32)+padRight("FPS", 8)+padRight("CLIPS", 8)+"SIZE"))
			for _, tl := range tls {
				fmt.Fprintln(out,
					padRight(truncateRunes(tl.Name, 30), 32)+
						padRight(humanize.FtoaWithDigits(tl.FrameRate, 3), 8)+
						padRight(humanize.Comma(int64(tl.ClipCount)), 8)+
						humanize.Bytes(uint64(max(tl.TotalSize, 0))))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}
