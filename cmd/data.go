package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runsascoded/awair/internal/analysis"
	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/config"
	"github.com/runsascoded/awair/internal/dt"
	"github.com/runsascoded/awair/internal/store"
)

var (
	dataPath string

	gapsFrom   string
	gapsTo     string
	gapsCount  int
	gapsMinGap int

	histFrom string
	histTo   string

	shardOut          string
	shardRowGroupSize int
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Inspect and manage archived data",
}

var dataInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show dataset information",
	RunE:  runDataInfo,
}

var dataGapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Report the largest timing gaps in the data",
	RunE:  runDataGaps,
}

var dataHistCmd = &cobra.Command{
	Use:   "hist",
	Short: "Show record counts per day",
	RunE:  runDataHist,
}

var dataShardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Split a single-file dataset into monthly shards",
	RunE:  runDataShard,
}

func init() {
	dataCmd.PersistentFlags().StringVar(&dataPath, "data", "", "dataset path (overrides config)")

	dataGapsCmd.Flags().StringVarP(&gapsFrom, "from-dt", "f", "", "start of window")
	dataGapsCmd.Flags().StringVarP(&gapsTo, "to-dt", "t", "", "end of window")
	dataGapsCmd.Flags().IntVarP(&gapsCount, "count", "n", 10, "number of largest gaps to show")
	dataGapsCmd.Flags().IntVarP(&gapsMinGap, "min-gap", "m", 0, "minimum gap size in seconds to report")

	dataHistCmd.Flags().StringVarP(&histFrom, "from-dt", "f", "", "start of window")
	dataHistCmd.Flags().StringVarP(&histTo, "to-dt", "t", "", "end of window")

	dataShardCmd.Flags().StringVar(&shardOut, "out", "", "shard base directory (default: dataset path minus .parquet)")
	dataShardCmd.Flags().IntVar(&shardRowGroupSize, "row-group-size", 0, "parquet row group size for shards")

	dataCmd.AddCommand(dataInfoCmd, dataGapsCmd, dataHistCmd, dataShardCmd)
	rootCmd.AddCommand(dataCmd)
}

// loadReadings opens the configured store read-only and returns its
// contents sorted ascending.
func loadReadings(ctx context.Context) ([]awair.Reading, string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, "", err
	}
	s, displayPath, err := openStore(ctx, cfg, dataPath)
	if err != nil {
		return nil, "", err
	}
	defer discardIfSession(s)
	defer s.Close() //nolint:errcheck

	readings, err := s.ReadAll(ctx)
	if err != nil {
		return nil, "", err
	}
	return readings, displayPath, nil
}

func parseRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		if from, err = dt.Parse(fromStr); err != nil {
			return from, to, fmt.Errorf("invalid --from-dt: %w", err)
		}
	}
	if toStr != "" {
		if to, err = dt.Parse(toStr); err != nil {
			return from, to, fmt.Errorf("invalid --to-dt: %w", err)
		}
	}
	return from, to, nil
}

func runDataInfo(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	s, displayPath, err := openStore(ctx, cfg, dataPath)
	if err != nil {
		return err
	}
	defer discardIfSession(s)
	defer s.Close() //nolint:errcheck

	sum, err := s.Summary(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Data source: %s\n", displayPath)
	if sum.Count == 0 {
		fmt.Println("No data found")
		return nil
	}
	fmt.Printf("Total records: %s\n", formatNumber(sum.Count))
	fmt.Printf("Date range: %s to %s\n",
		sum.Earliest.Format(time.RFC3339), sum.Latest.Format(time.RFC3339))
	fmt.Printf("Size: %s\n", formatBytes(sum.SizeBytes))

	// Per-month breakdown for sharded datasets.
	if ms, ok := s.(*store.MonthlyParquetStore); ok {
		readings, err := ms.ReadAll(ctx)
		if err != nil {
			return err
		}
		counts := make(map[string]int)
		for _, r := range readings {
			counts[r.Timestamp.UTC().Format("2006-01")]++
		}
		fmt.Println("\nMonthly files:")
		for _, m := range ms.Months() {
			fmt.Printf("  %s: %s records\n", m, formatNumber(counts[m]))
		}
	}
	return nil
}

func runDataGaps(cmd *cobra.Command, args []string) error {
	setupLogging()

	from, to, err := parseRange(gapsFrom, gapsTo)
	if err != nil {
		return err
	}
	readings, displayPath, err := loadReadings(cmd.Context())
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Println("No data found")
		return nil
	}
	readings = analysis.FilterRange(readings, from, to)
	if len(readings) == 0 {
		fmt.Println("No data in specified date range")
		return nil
	}

	minGap := time.Duration(gapsMinGap) * time.Second
	gaps := analysis.FindGaps(readings, minGap)

	fmt.Printf("Gap analysis for %s\n", displayPath)
	fmt.Printf("Date range: %s to %s\n",
		readings[0].Timestamp.Format(time.DateOnly),
		readings[len(readings)-1].Timestamp.Format(time.DateOnly))
	fmt.Printf("Total records: %d\n", len(readings))

	if len(gaps) == 0 {
		if gapsMinGap > 0 {
			fmt.Printf("No gaps >= %d seconds found\n", gapsMinGap)
		} else {
			fmt.Println("No gaps found")
		}
		return nil
	}
	if gapsMinGap > 0 {
		var total time.Duration
		for _, g := range gaps {
			total += g.Duration
		}
		fmt.Printf("Gaps >= %ds: %d\n", gapsMinGap, len(gaps))
		fmt.Printf("Total gap time: %.1f minutes\n", total.Minutes())
	}

	show := gapsCount
	if show > len(gaps) {
		show = len(gaps)
	}
	fmt.Printf("\nTop %d largest gaps:\n", show)
	for _, g := range gaps[:show] {
		fmt.Printf("%5.1fm gap: %s -> %s\n",
			g.Duration.Minutes(),
			g.Start.Format("2006-01-02 15:04:05"),
			g.End.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runDataHist(cmd *cobra.Command, args []string) error {
	setupLogging()

	from, to, err := parseRange(histFrom, histTo)
	if err != nil {
		return err
	}
	readings, _, err := loadReadings(cmd.Context())
	if err != nil {
		return err
	}
	readings = analysis.FilterRange(readings, from, to)
	if len(readings) == 0 {
		fmt.Println("No data found")
		return nil
	}

	for _, day := range analysis.DailyCounts(readings) {
		fmt.Printf("%7d %s\n", day.Count, day.Date)
	}
	return nil
}

func runDataShard(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	src := cfg.Storage.Parquet.Path
	if dataPath != "" {
		src = dataPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	in, err := store.OpenParquet(ctx, src, store.ConflictWarn, slog.Default())
	if err != nil {
		return err
	}
	defer in.Discard()

	readings, err := in.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return fmt.Errorf("no data in %s", src)
	}

	base := shardOut
	if base == "" {
		base = store.MonthlyBase(src)
	}
	var opts []store.ParquetOption
	if shardRowGroupSize > 0 {
		opts = append(opts, store.WithRowGroupSize(shardRowGroupSize))
	}
	out, err := store.OpenMonthly(ctx, base, store.ConflictWarn, slog.Default(), opts...)
	if err != nil {
		return err
	}

	added, err := out.Insert(ctx, readings)
	if err != nil {
		out.Discard()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	slog.Info("shard complete", "source", src, "base", base,
		"records", len(readings), "new_records", added)
	return nil
}
