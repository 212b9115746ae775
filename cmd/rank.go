package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/config"
	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/pipeline"
	"github.com/sells-group/ohsome-cli/internal/report"
	"github.com/sells-group/ohsome-cli/pkg/ohsome"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank grid cells by total contribution activity",
	Long: "Sums created, modified and deleted counts over the study window for every cell of each study region " +
		"and writes the most active cells as CSV and GeoJSON. With several regions configured it also writes a " +
		"per-region summary and comparison charts.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyStudyFlags(cmd, cfg)
		if err := cfg.Validate("rank"); err != nil {
			return err
		}

		start, end, err := cfg.StudyWindow()
		if err != nil {
			return err
		}

		regions := cfg.StudyRegions()
		// Every cell of the grid unless --cells narrows it down.
		ids := cellIDsFlag(cmd)
		if ids != nil && len(regions) > 1 {
			return eris.New("--cells needs a single region; pass --region to pick one")
		}
		if ids == nil {
			ids = []int64{}
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		ranker := regionRanker{
			cfg:     cfg,
			fetcher: buildFetcher(cfg, st),
			start:   start,
			end:     end,
			out:     os.Stdout,
			heading: len(regions) > 1,
		}

		summaries := make([]model.RegionActivity, 0, len(regions))
		failed := 0
		for _, region := range regions {
			summary, written, err := ranker.rank(ctx, region, ids)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				zap.L().Error("rank: region failed", zap.String("region", region.Name), zap.Error(err))
				summary = model.RegionActivity{Region: region.Name, Error: err.Error()}
				failed++
			}
			summaries = append(summaries, summary)
			for _, path := range written {
				fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
			}
		}

		if len(regions) > 1 {
			renderer, err := report.NewRenderer(report.Options{Dir: cfg.Output.Dir, Charts: cfg.Output.Charts})
			if err != nil {
				return err
			}
			written, err := renderer.RenderComparison(summaries)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout)
			formatRegions(os.Stdout, summaries)
			for _, path := range written {
				fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
			}
		}

		if failed == len(regions) {
			return eris.Errorf("rank: all %d regions failed", failed)
		}
		return nil
	},
}

func init() {
	addStudyFlags(rankCmd)
	rankCmd.Flags().Int("top", 0, "number of cells to keep per region (default from config)")
	rankCmd.Flags().String("out", "", "output directory (default from config)")
	rootCmd.AddCommand(rankCmd)
}

// regionRanker ranks the cells of one region at a time with a shared
// fetch chain.
type regionRanker struct {
	cfg     *config.Config
	fetcher ohsome.Fetcher
	start   time.Time
	end     time.Time
	out     io.Writer
	heading bool
}

// rank loads a region's grid, ranks its cells and writes the ranking
// artifacts. It returns the region summary and the written paths.
func (r regionRanker) rank(ctx context.Context, region config.RegionConfig, ids []int64) (model.RegionActivity, []string, error) {
	cells, err := loadRegionCells(region, ids)
	if err != nil {
		return model.RegionActivity{}, nil, err
	}

	p := pipeline.New(r.fetcher, nil, pipeline.Options{
		Region:      region.Name,
		Start:       r.start,
		End:         r.end,
		MaxSpan:     r.cfg.MaxSpan(),
		Concurrency: r.cfg.Pipeline.Concurrency,
	})

	ranked, err := p.Rank(ctx, cells, r.cfg.Pipeline.TopN)
	if err != nil {
		return model.RegionActivity{}, nil, eris.Wrapf(err, "rank %s", region.Name)
	}

	renderer, err := report.NewRenderer(report.Options{
		Dir:    r.cfg.Output.Dir,
		Region: region.Name,
		Charts: r.cfg.Output.Charts,
	})
	if err != nil {
		return model.RegionActivity{}, nil, err
	}
	written, err := renderer.RenderRanking(ranked, cells)
	if err != nil {
		return model.RegionActivity{}, written, err
	}

	if r.heading {
		_, _ = fmt.Fprintf(r.out, "\n== %s ==\n", region.Name)
	}
	formatRanking(r.out, ranked)
	return model.SummarizeRegion(region.Name, ranked), written, nil
}

// formatRanking writes the ranked cells as a table.
func formatRanking(out io.Writer, ranked []model.CellActivity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tCELL\tCREATED\tMODIFIED\tDELETED\tTOTAL")
	_, _ = fmt.Fprintln(w, "----\t----\t-------\t--------\t-------\t-----")
	for _, a := range ranked {
		total := fmt.Sprintf("%d", a.Total)
		if a.Error != "" {
			total += " (failed)"
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%s\n", a.Rank, a.CellID, a.Created, a.Modified, a.Deleted, total)
	}
	_ = w.Flush()
}

// formatRegions writes the per-region comparison as a table.
func formatRegions(out io.Writer, regions []model.RegionActivity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tCELLS\tTOTAL\tAVERAGE\tMAX\tSTATUS")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----\t-------\t---\t------")
	for _, r := range regions {
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\tfailed: %s\n", r.Region, r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%d\tok\n", r.Region, r.CellsRanked, r.TotalActivity, r.AverageActivity, r.MaxActivity)
	}
	_ = w.Flush()
}
