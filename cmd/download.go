package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/filing-acquirer/internal/acquire"
	"github.com/sells-group/filing-acquirer/internal/config"
	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "List and run pending/failed filing downloads",
	Long:  "Lists filing searches with download_status in (pending, failed), failed first, then accepts a selection (single index, a-b range, CSV list, 'all', or 'q' to quit) and runs the acquisition coordinator against the chosen items.",
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().Int("limit", 50, "maximum pending items to list")
	downloadCmd.Flags().String("select", "", "selection without prompting: single index, 'a-b' range, CSV list, or 'all'")
}

func runDownload(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate("download"); err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, closeRepo, err := initRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	limit, _ := cmd.Flags().GetInt("limit")
	filings, err := repo.GetPendingDownloads(ctx, limit)
	if err != nil {
		return err
	}

	if len(filings) == 0 {
		fmt.Println("nothing pending or failed")
		return nil
	}

	for i, f := range filings {
		fmt.Printf("[%d] %-8s %-10s %-12s %s\n", i+1, f.MarketType, f.DownloadStatus, f.FormType, f.FilingURL)
	}

	selection, _ := cmd.Flags().GetString("select")
	if selection == "" {
		selection = promptSelection(os.Stdin, os.Stdout, len(filings))
	}
	if strings.EqualFold(selection, "q") || selection == "" {
		fmt.Println("cancelled")
		return nil
	}

	indexes, err := parseSelection(selection, len(filings))
	if err != nil {
		return err
	}

	coordinator := buildAcquireCoordinator(repo, cfg)

	for _, idx := range indexes {
		f := filings[idx]
		coordinator.ProcessFiling(ctx, f)
	}

	succeeded, failedStill := summarizeOutcome(ctx, repo, filings, indexes)
	fmt.Printf("\nsummary: %d selected, %d completed, %d still failed/pending\n", len(indexes), succeeded, failedStill)
	return nil
}

// summarizeOutcome re-reads each processed item's final status so the
// summary line reflects what actually happened rather than what was
// attempted (a per-item failure is recorded in the database, not
// returned, by acquire.Coordinator's design).
func summarizeOutcome(ctx context.Context, repo db.Repository, filings []model.FilingSearch, indexes []int) (succeeded, failedStill int) {
	for _, idx := range indexes {
		updated, err := repo.GetFilingSearch(ctx, filings[idx].SearchID)
		if err != nil {
			failedStill++
			continue
		}
		if updated.DownloadStatus == model.StatusCompleted {
			succeeded++
		} else {
			failedStill++
		}
	}
	return succeeded, failedStill
}

// promptSelection reads a selection line interactively, matching the
// downloader CLI's selection contract (spec §6).
func promptSelection(in *os.File, out *os.File, total int) string {
	fmt.Fprintf(out, "\nselect items to download (1-%d, range, CSV, 'all', or 'q'): ", total)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return "q"
	}
	return strings.TrimSpace(scanner.Text())
}

// parseSelection turns a selection string into zero-based indexes:
// "all", a single index, an "a-b" range, or a CSV list of indexes.
func parseSelection(selection string, total int) ([]int, error) {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		return nil, nil
	}
	if strings.EqualFold(selection, "all") {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	if strings.Contains(selection, "-") && !strings.Contains(selection, ",") {
		parts := strings.SplitN(selection, "-", 2)
		if len(parts) == 2 {
			start, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
			end, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
			if errA == nil && errB == nil {
				return rangeIndexes(start, end, total)
			}
		}
	}

	var out []int
	for _, part := range strings.Split(selection, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("download: invalid selection %q", part)
		}
		if n < 1 || n > total {
			return nil, fmt.Errorf("download: selection %d out of range (1-%d)", n, total)
		}
		out = append(out, n-1)
	}
	return out, nil
}

func rangeIndexes(start, end, total int) ([]int, error) {
	if start < 1 || end > total || start > end {
		return nil, fmt.Errorf("download: invalid range %d-%d (have 1-%d)", start, end, total)
	}
	out := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, n-1)
	}
	return out, nil
}

// buildAcquireCoordinator wires the download coordinator from the shared
// HTTP fetcher, archive-safety limits, and configured filesystem roots.
func buildAcquireCoordinator(repo db.Repository, c *config.Config) *acquire.Coordinator {
	policy := fetcher.MarketPolicy{
		SECUserAgent:  c.SEC.UserAgent,
		UKCHAPIKey:    c.UKCH.APIKey,
		UKCHUserAgent: c.UKCH.UserAgent,
	}
	httpOpts := fetcher.HTTPOptions{
		UserAgent:  c.SEC.UserAgent,
		MaxRetries: c.Retry.Attempts,
		Circuit:    resilience.FromCircuitConfig(c.Retry.CircuitFailureThreshold, c.Retry.CircuitResetTimeoutSecs),
	}
	f := fetcher.NewHTTPFetcher(httpOpts, policy)

	limits := fetcher.ArchiveSafetyLimits{
		MaxTotalSize: c.Safety.MaxArchiveSize,
		MaxDepth:     c.Safety.MaxExtractionDepth,
	}

	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{})

	detector := acquire.NewDetector(nil, policy)
	detector.SetFTPFetcher(ftpFetcher)
	dirHandler := acquire.NewDirectoryHandler(f, c.Safety.DirectoryMaxDepth)
	xsdHandler := acquire.NewXSDHandler(f, c.Safety.XSDMaxImportDepth)
	processor := acquire.NewDistributionProcessor(detector, f, xsdHandler, dirHandler, c.Paths.TempDir, limits)
	processor.SetFTPFetcher(ftpFetcher)
	paths := acquire.NewPathResolver(c.Paths.EntitiesRoot, c.Paths.TaxonomiesRoot)
	validator := acquire.NewValidator(c.Safety.MaxExtractionDepth)
	failures := acquire.NewFailureHandler(repo)

	return acquire.NewCoordinator(repo, paths, processor, validator, failures, c.Acquisition.MaxConcurrent)
}
