package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/app"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Crawl a range of CVPR years and export the papers",
		Long: `Crawls every year between --start-year and --end-year. Years run in
parallel unless --sequential-years is set, with --concurrency bounding detail
fetches across all years. Interrupting the harvest keeps every per-year
snapshot already written and still exports the records accepted so far.`,
		RunE: withApp(runHarvestCommand),
	}

	f := cmd.Flags()
	f.Int("start-year", crawler.MinYear, "first year to harvest")
	f.Int("end-year", crawler.MaxYear, "last year to harvest")
	f.Bool("sequential-years", false, "crawl one year at a time")
	f.Bool("no-cache", false, "bypass the page cache")
	f.String("format", "both", "export format: json, csv or both")
	f.String("output-dir", "cvpr_data", "directory for snapshots and exports")
	f.Int("concurrency", 100, "maximum in-flight detail fetches across all years")
	f.Int("per-year", 100, "maximum in-flight detail fetches within one year")
	f.Int("delay", 10, "pause in milliseconds before each network request")
	f.String("cache-dir", "", "page cache directory")
	f.String("cache-backend", "fs", "page cache backend: fs, sqlite or memory")
	f.Bool("serve", false, "expose the status API while harvesting")
	f.Int("port", 8080, "status API port")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, appInstance App) error {
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appInstance.Config().Server.Enabled {
		appInstance.Serve()
	}

	report, err := appInstance.Harvest(ctx)
	if err != nil && !errors.Is(err, crawler.ErrCanceled) {
		return fmt.Errorf("harvest: %w", err)
	}
	printSummary(cmd.OutOrStdout(), report)
	if err != nil {
		logger.Warn("harvest interrupted; partial results exported", zap.Error(context.Cause(ctx)))
		return err
	}
	logger.Info("Harvest command finished.")
	return nil
}

func printSummary(w io.Writer, report app.Report) {
	res := report.Result
	fmt.Fprintf(w, "Harvested %d papers in %s\n", len(res.Records), res.Elapsed.Round(time.Millisecond))
	for _, y := range res.Years {
		line := fmt.Sprintf("  %d  %-9s %5d papers %4d errors", y.Year, y.Status, y.Records, y.Progress.Errors)
		if y.Error != "" {
			line += "  (" + y.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	if failed := res.FailedYears(); len(failed) > 0 {
		years := make([]string, len(failed))
		for i, y := range failed {
			years[i] = fmt.Sprint(y)
		}
		fmt.Fprintf(w, "Failed years: %s\n", strings.Join(years, ", "))
	}
	for _, uri := range report.ExportURIs {
		fmt.Fprintf(w, "Wrote %s\n", uri)
	}
}
