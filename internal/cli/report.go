package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/report"
	"github.com/ditkit/ditreport/internal/runner"
)

// selectionFlags are shared by every command that starts a run.
type selectionFlags struct {
	timelines []string
	mode      string
	rule      string
	title     string
	outputDir string
}

func (s *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&s.timelines, "timeline", "t", nil, "timeline name or id (repeatable; default: current timeline)")
	cmd.Flags().StringVar(&s.mode, "mode", string(capture.ModeClip), "capture one still per clip or per marker")
	cmd.Flags().StringVar(&s.rule, "rule", "", "frame within a clip: first, middle or last")
	cmd.Flags().StringVar(&s.title, "title", "", "report title, also used to name the artifact")
	cmd.Flags().StringVarP(&s.outputDir, "output-dir", "o", "", "directory for the artifact (default: current directory)")
}

func (s *selectionFlags) selection() (engine.Selection, error) {
	mode, err := capture.ParseMode(s.mode)
	if err != nil {
		return engine.Selection{}, err
	}
	sel := engine.Selection{Timelines: s.timelines, Mode: mode, Title: s.title}
	if s.rule != "" {
		if sel.Rule, err = capture.ParseFrameRule(s.rule); err != nil {
			return engine.Selection{}, err
		}
	}
	return sel, nil
}

func newReportCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report from one or more timelines",
	}
	cmd.AddCommand(newReportPDFCmd(g), newReportTableCmd(g), newReportEDLCmd(g))
	return cmd
}

func newReportPDFCmd(g *globalFlags) *cobra.Command {
	var (
		s        selectionFlags
		footer   string
		cover    bool
		subtitle string
		operator string
		stats    bool
		fields   []string
		branding string
	)

	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Render a PDF dailies report with a still per clip or marker",
		Long: `Renders a PDF dailies report with a still per clip or marker.

Text is set in core Helvetica, which covers Western European characters only;
anything else prints as ".". Point DITREPORT_FONT_PATH at a UTF-8 TrueType
font (for example a Noto Sans CJK face) to render other scripts.`,
		Example: `  # Report on the current timeline
  ditreport report pdf

  # Two timelines, a cover page and marker stills
  ditreport report pdf -t "Day 1" -t "Day 2" --mode marker --cover --title "Dailies" -o ~/Reports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := s.selection()
			if err != nil {
				return err
			}
			sel.Footer = footer
			if cover || subtitle != "" || len(fields) > 0 || branding != "" || stats {
				c, err := coverRequest(s.title, subtitle, operator, stats, fields, branding)
				if err != nil {
					return err
				}
				sel.Cover = c
			}

			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.execute(cmd, runner.Request{Kind: history.KindDocument, Selection: sel, OutputDir: s.outputDir})
		},
	}

	s.bind(cmd)
	cmd.Flags().StringVar(&footer, "footer", "", "footer text (overrides DITREPORT_FOOTER)")
	cmd.Flags().BoolVar(&cover, "cover", false, "add a cover page")
	cmd.Flags().StringVar(&subtitle, "subtitle", "", "cover subtitle (default: project name)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator named on the cover (overrides DITREPORT_OPERATOR)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print media pool statistics on the cover")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "extra cover field as Label=Value (repeatable)")
	cmd.Flags().StringVar(&branding, "branding", "", "PNG or JPEG logo for the cover")

	return cmd
}

func coverRequest(title, subtitle, operator string, stats bool, fields []string, branding string) (*engine.CoverRequest, error) {
	c := &engine.CoverRequest{Title: title, Subtitle: subtitle, Operator: operator, Stats: stats}
	for _, f := range fields {
		label, value, ok := strings.Cut(f, "=")
		if !ok || label == "" {
			return nil, fmt.Errorf("invalid --field %q (want Label=Value)", f)
		}
		c.Fields = append(c.Fields, report.Field{Label: label, Value: value})
	}
	if branding != "" {
		data, err := os.ReadFile(branding)
		if err != nil {
			return nil, fmt.Errorf("failed to read branding image: %w", err)
		}
		c.Branding = data
	}
	return c, nil
}

func newReportTableCmd(g *globalFlags) *cobra.Command {
	var (
		s      selectionFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Export the clip table as CSV or Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := s.selection()
			if err != nil {
				return err
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.execute(cmd, runner.Request{Kind: history.KindTable, Selection: sel, OutputDir: s.outputDir, Format: format})
		},
	}

	s.bind(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", runner.FormatCSV, "csv or parquet")

	return cmd
}

func newReportEDLCmd(g *globalFlags) *cobra.Command {
	var s selectionFlags

	cmd := &cobra.Command{
		Use:   "edl",
		Short: "Write a CMX 3600 EDL per timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := s.selection()
			if err != nil {
				return err
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.execute(cmd, runner.Request{Kind: history.KindEDL, Selection: sel, OutputDir: s.outputDir})
		},
	}

	s.bind(cmd)

	return cmd
}

func newThumbnailsCmd(g *globalFlags) *cobra.Command {
	var s selectionFlags

	cmd := &cobra.Command{
		Use:   "thumbnails",
		Short: "Export one JPEG still per clip or marker",
		Long: `Exports stills into --output-dir, which must already exist. Without
--output-dir a new <title>_<timestamp> directory is created in the current
directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := s.selection()
			if err != nil {
				return err
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.execute(cmd, runner.Request{Kind: history.KindThumbnails, Selection: sel, OutputDir: s.outputDir})
		},
	}

	s.bind(cmd)

	return cmd
}
