package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/ohsome-cli/internal/config"
	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/pipeline"
	"github.com/sells-group/ohsome-cli/internal/report"
	"github.com/sells-group/ohsome-cli/internal/saturation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute persistence and saturation fits for the study cells",
	Example: `  ohsome-cli run --cells 523,557
  ohsome-cli run --start 2020-01-01 --end 2021-01-01 --out out/`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyStudyFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		start, end, err := cfg.StudyWindow()
		if err != nil {
			return err
		}
		cells, err := loadCells(cfg, cellIDsFlag(cmd))
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		region := cfg.StudyRegions()[0]
		renderer, err := report.NewRenderer(report.Options{
			Dir:    cfg.Output.Dir,
			Region: region.Name,
			Charts: cfg.Output.Charts,
			XLSX:   cfg.Output.XLSX,
		})
		if err != nil {
			return err
		}

		opts := []pipeline.Option{pipeline.WithRenderer(renderer)}
		if st != nil {
			opts = append(opts, pipeline.WithStore(st))
		}

		p := pipeline.New(
			buildFetcher(cfg, st),
			saturation.NewFitter(cfg.Fit.MinPoints, cfg.Fit.MaxIterations),
			pipeline.Options{
				Region:      region.Name,
				Start:       start,
				End:         end,
				MaxSpan:     cfg.MaxSpan(),
				Concurrency: cfg.Pipeline.Concurrency,
				Params:      runParams(cfg, cells),
			},
			opts...,
		)

		summary, runErr := p.Run(ctx, cells)
		if summary != nil {
			formatSummary(os.Stdout, summary)
			fmt.Fprintf(os.Stderr, "Reports written to %s\n", renderer.Dir())
		}
		return runErr
	},
}

func init() {
	addStudyFlags(runCmd)
	runCmd.Flags().String("out", "", "output directory (default from config)")
	rootCmd.AddCommand(runCmd)
}

// addStudyFlags registers the flags shared by run and rank.
func addStudyFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Slice("cells", nil, "cell ids to process (default from config)")
	cmd.Flags().String("start", "", "study start date YYYY-MM-DD (default from config)")
	cmd.Flags().String("end", "", "study end date YYYY-MM-DD (default from config)")
	cmd.Flags().String("region", "", "study a single region; a name from study.regions brings its grid")
	cmd.Flags().String("grid", "", "grid file, GeoJSON or shapefile")
	cmd.Flags().Int("concurrency", 0, "cells processed in parallel (default from config)")
}

// applyStudyFlags copies explicitly set flags over the loaded config.
func applyStudyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		c.Study.Start, _ = flags.GetString("start")
	}
	if flags.Changed("end") {
		c.Study.End, _ = flags.GetString("end")
	}
	if flags.Changed("region") || flags.Changed("grid") {
		region, _ := flags.GetString("region")
		gridPath, _ := flags.GetString("grid")
		c.UseRegion(region, gridPath)
	}
	if flags.Changed("concurrency") {
		c.Pipeline.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Lookup("out") != nil && flags.Changed("out") {
		c.Output.Dir, _ = flags.GetString("out")
	}
	if flags.Lookup("top") != nil && flags.Changed("top") {
		c.Pipeline.TopN, _ = flags.GetInt("top")
	}
}

// cellIDsFlag returns the --cells value, or nil when the flag was not given.
func cellIDsFlag(cmd *cobra.Command) []int64 {
	if !cmd.Flags().Changed("cells") {
		return nil
	}
	ids, _ := cmd.Flags().GetInt64Slice("cells")
	return ids
}

// formatSummary writes one line per processed cell followed by the skip list.
func formatSummary(out io.Writer, s *model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Region:\t%s\n", s.Region)
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", s.Window)
	if s.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "CELL\tCREATED\tREMOVED\tPERSISTENCE\tFITS")
	_, _ = fmt.Fprintln(w, "----\t-------\t-------\t-----------\t----")
	for _, c := range s.Cells {
		created, removed, ratio := "-", "-", "-"
		if c.Persistence != nil {
			created = fmt.Sprintf("%d", c.Persistence.TotalCreated)
			removed = fmt.Sprintf("%d", c.Persistence.TotalRemoved)
			if c.Persistence.Ratio != nil {
				ratio = fmt.Sprintf("%.3f", *c.Persistence.Ratio)
			} else {
				ratio = "undefined"
			}
		}
		ok := 0
		for _, f := range c.Fits {
			if f.Status == model.FitOK {
				ok++
			}
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\n", c.CellID, created, removed, ratio, ok, len(c.Fits))
	}
	_ = w.Flush()

	if len(s.Skipped) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Skipped:")
		for _, r := range s.Skipped {
			kind := string(r.Kind)
			if kind == "" {
				kind = "all"
			}
			_, _ = fmt.Fprintf(out, "  cell %d %s (%s): %s\n", r.CellID, kind, r.Stage, r.Error)
		}
	}
	if len(s.Unconverged) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Fits not converged:")
		for _, f := range s.Unconverged {
			_, _ = fmt.Fprintf(out, "  cell %d %s: %s\n", f.CellID, f.Kind, f.Reason)
		}
	}
}
