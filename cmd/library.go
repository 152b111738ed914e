package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/taxonomy"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage the taxonomy library: scan filings, list, monitor, and recover",
	RunE:  runLibrary,
}

func init() {
	rootCmd.AddCommand(libraryCmd)

	libraryCmd.Flags().Bool("setup", false, "create all filesystem roots and run database migrations, then exit")
	libraryCmd.Flags().Bool("scan", false, "scan every parsed.json under the entities root and queue missing taxonomies")
	libraryCmd.Flags().Bool("monitor", false, "loop --scan followed by --download on library.monitor_interval_secs")
	libraryCmd.Flags().Bool("list", false, "list pending and failed taxonomy libraries")
	libraryCmd.Flags().Bool("list-pending", false, "list pending taxonomy downloads")
	libraryCmd.Flags().Bool("stats", false, "print library statistics")
	libraryCmd.Flags().Bool("manual", false, "scan manual_downloads/ and print pending drop files")
	libraryCmd.Flags().String("process-manual", "", "process one manual_downloads/ file by name")
	libraryCmd.Flags().String("name", "", "taxonomy name (with --process-manual)")
	libraryCmd.Flags().String("version", "", "taxonomy version (with --process-manual)")
	libraryCmd.Flags().String("namespace", "", "taxonomy namespace (with --process-manual)")
	libraryCmd.Flags().Bool("download", false, "run pending taxonomy downloads through the acquisition coordinator")
}

func runLibrary(cmd *cobra.Command, args []string) error {
	setup, _ := cmd.Flags().GetBool("setup")
	if setup {
		return runLibrarySetup(cmd.Context())
	}

	if err := cfg.Validate("library"); err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, closeRepo, err := initRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	monitor, _ := cmd.Flags().GetBool("monitor")
	if monitor {
		return runLibraryMonitor(ctx, repo)
	}

	if scan, _ := cmd.Flags().GetBool("scan"); scan {
		if err := runLibraryScan(ctx, repo); err != nil {
			return err
		}
	}
	if list, _ := cmd.Flags().GetBool("list"); list {
		if err := runLibraryList(ctx, repo); err != nil {
			return err
		}
	}
	if listPending, _ := cmd.Flags().GetBool("list-pending"); listPending {
		if err := runLibraryListPending(ctx, repo); err != nil {
			return err
		}
	}
	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		if err := runLibraryStats(ctx, repo); err != nil {
			return err
		}
	}
	if manual, _ := cmd.Flags().GetBool("manual"); manual {
		if err := runLibraryManual(cmd, repo); err != nil {
			return err
		}
	}
	if download, _ := cmd.Flags().GetBool("download"); download {
		if err := runLibraryDownload(ctx, repo); err != nil {
			return err
		}
	}

	return nil
}

// runLibrarySetup is the supplemented bootstrap feature (spec's --setup):
// create every configured filesystem root and run database migrations so
// a fresh deployment can start acquiring filings immediately.
func runLibrarySetup(ctx context.Context) error {
	dirs := []string{
		cfg.Paths.Root, cfg.Paths.EntitiesRoot, cfg.Paths.TaxonomiesRoot,
		cfg.Paths.TempDir, cfg.Paths.LogDir, cfg.Paths.CacheDir,
		cfg.Paths.ManualDownloads, cfg.Paths.ManualProcessed,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "setup: create directory %q", dir)
		}
		fmt.Printf("ensured %s\n", dir)
	}

	repo, closeRepo, err := initRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := repo.SeedMarkets(ctx, defaultMarkets()); err != nil {
		return eris.Wrap(err, "setup: seed markets")
	}

	fmt.Println("setup complete")
	return nil
}

func defaultMarkets() []model.Market {
	return []model.Market{
		{MarketID: model.MarketSEC, Name: "SEC EDGAR", Country: "US", APIBaseURL: "https://www.sec.gov", RateLimitPerMinute: 600, UserAgentRequired: true},
		{MarketID: model.MarketUKCH, Name: "UK Companies House", Country: "GB", APIBaseURL: "https://api.companieshouse.gov.uk", RateLimitPerMinute: 120, UserAgentRequired: true},
		{MarketID: model.MarketESEF, Name: "ESEF/XBRL Aggregator", Country: "EU", APIBaseURL: "https://filings.xbrl.org", RateLimitPerMinute: 60, UserAgentRequired: false},
	}
}

func buildTaxonomyCoordinator(repo db.Repository) *taxonomy.Coordinator {
	checker := taxonomy.NewAvailabilityChecker(repo, cfg.Paths.TaxonomiesRoot, cfg.Library.MinFilesThreshold)
	return taxonomy.NewCoordinator(repo, checker, time.Duration(cfg.Library.CacheTTLSecs)*time.Second)
}

// runLibraryScan walks every parsed.json found under the entities root,
// resolves its declared namespaces, and queues whatever taxonomies are
// still missing (spec §6's parsed filing descriptor contract).
func runLibraryScan(ctx context.Context, repo db.Repository) error {
	coordinator := buildTaxonomyCoordinator(repo)

	scanned, queued := 0, 0
	err := filepath.WalkDir(cfg.Paths.EntitiesRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != "parsed.json" {
			return nil
		}

		namespaces, readErr := taxonomy.ReadDescriptor(path)
		if readErr != nil {
			zap.L().Warn("library: skipping unreadable descriptor", zap.String("path", path), zap.Error(readErr))
			return nil
		}

		filingID := filepath.Dir(path)
		result, procErr := coordinator.ProcessFiling(ctx, filingID, "", namespaces)
		if procErr != nil {
			zap.L().Error("library: process filing failed", zap.String("filing_id", filingID), zap.Error(procErr))
			return nil
		}

		scanned++
		queued += len(result.Queued)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "library: scan entities root")
	}

	fmt.Printf("scanned %d filing(s), queued %d taxonomy download(s)\n", scanned, queued)
	return nil
}

func runLibraryList(ctx context.Context, repo db.Repository) error {
	failed, err := repo.ListFailedTaxonomies(ctx, cfg.Retry.MaxTotalTries)
	if err != nil {
		return err
	}
	pending, err := repo.GetPendingTaxonomies(ctx, 1000)
	if err != nil {
		return err
	}

	fmt.Printf("pending: %d, failed: %d\n", len(pending), len(failed))
	for _, lib := range pending {
		fmt.Printf("  pending  %-20s %-10s %s\n", lib.TaxonomyName, lib.TaxonomyVersion, lib.CurrentURL)
	}
	for _, lib := range failed {
		fmt.Printf("  failed   %-20s %-10s %s\n", lib.TaxonomyName, lib.TaxonomyVersion, lib.FailureReason)
	}
	return nil
}

func runLibraryListPending(ctx context.Context, repo db.Repository) error {
	pending, err := repo.GetPendingTaxonomies(ctx, 1000)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending taxonomy downloads")
		return nil
	}
	for _, lib := range pending {
		fmt.Printf("%s %s -> %s\n", lib.TaxonomyName, lib.TaxonomyVersion, lib.CurrentURL)
	}
	return nil
}

func runLibraryStats(ctx context.Context, repo db.Repository) error {
	pending, err := repo.GetPendingTaxonomies(ctx, 10000)
	if err != nil {
		return err
	}
	failed, err := repo.ListFailedTaxonomies(ctx, cfg.Retry.MaxTotalTries)
	if err != nil {
		return err
	}

	manual := taxonomy.NewManualProcessor(repo, cfg.Paths.ManualDownloads, cfg.Paths.ManualProcessed, cfg.Paths.TaxonomiesRoot, archiveSafetyLimits())
	drops, err := manual.Scan()
	if err != nil {
		return err
	}

	report := taxonomy.BuildStatisticsReport(pending, failed, drops)
	report.Render(os.Stdout)
	return nil
}

func runLibraryManual(cmd *cobra.Command, repo db.Repository) error {
	manual := taxonomy.NewManualProcessor(repo, cfg.Paths.ManualDownloads, cfg.Paths.ManualProcessed, cfg.Paths.TaxonomiesRoot, archiveSafetyLimits())

	filename, _ := cmd.Flags().GetString("process-manual")
	if filename == "" {
		files, err := manual.Scan()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println(manual.Instructions())
			return nil
		}
		for _, f := range files {
			fmt.Printf("%-40s %8.2f MB  %s\n", f.Filename, f.SizeMB, f.Modified.Format(time.RFC3339))
		}
		return nil
	}

	name, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetString("version")
	namespace, _ := cmd.Flags().GetString("namespace")
	if name == "" || version == "" {
		return eris.New("library: --process-manual requires --name and --version")
	}

	result, err := manual.ProcessFile(cmd.Context(), filename, name, version, namespace)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %d file(s) to %s, archived original to %s\n", result.FileCount, result.ExtractedTo, result.ArchivedTo)
	return nil
}

func runLibraryDownload(ctx context.Context, repo db.Repository) error {
	coordinator := buildAcquireCoordinator(repo, cfg)
	return coordinator.ProcessPendingDownloads(ctx, 100)
}

// runLibraryMonitor loops scan, download, and retry-recovery on the
// configured interval until the process is interrupted (spec §6's
// "--monitor (loop with interval)").
func runLibraryMonitor(ctx context.Context, repo db.Repository) error {
	interval := time.Duration(cfg.Library.MonitorIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	retryMonitor := taxonomy.NewRetryMonitor(repo, cfg.Retry.MaxTotalTries, cfg.Retry.MaxDownloadTry)

	for {
		if err := runLibraryScan(ctx, repo); err != nil {
			zap.L().Error("library monitor: scan failed", zap.Error(err))
		}
		if err := runLibraryDownload(ctx, repo); err != nil {
			zap.L().Error("library monitor: download failed", zap.Error(err))
		}
		if _, _, err := retryMonitor.Run(ctx); err != nil {
			zap.L().Error("library monitor: retry pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func archiveSafetyLimits() fetcher.ArchiveSafetyLimits {
	return fetcher.ArchiveSafetyLimits{
		MaxTotalSize: cfg.Safety.MaxArchiveSize,
		MaxDepth:     cfg.Safety.MaxExtractionDepth,
	}
}
