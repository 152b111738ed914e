package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// RetryStrategy is the action the monitor takes for one failed library
// (spec §4.13's strategy table).
type RetryStrategy string

const (
	RetrySameURL            RetryStrategy = "retry_same_url"
	RetryAlternativeURL     RetryStrategy = "try_alternative_url"
	RetryManualIntervention RetryStrategy = "manual_intervention"
)

// Failure reason classes (spec §4.13's "Reason class" column).
var urlLevelReasons = map[string]bool{
	"invalid_url": true, "url_404": true, "url_403": true, "dns_error": true,
}

var transientReasons = map[string]bool{
	"network_error": true, "timeout": true, "incomplete_download": true,
}

var extractionReasons = map[string]bool{
	"corrupted_zip": true, "invalid_archive": true,
}

var systemReasons = map[string]bool{
	"permission_denied": true, "disk_full": true, "extraction_error": true,
}

const (
	maxDownloadAttemptsDefault  = 5
	maxExtractionAttemptsLadder = 2
)

// ClassifyRetry maps a failed library's failure reason and attempt counts
// to the strategy the monitor should take (spec §4.13's table).
func ClassifyRetry(lib model.TaxonomyLibrary, maxDownloadAttempts int) RetryStrategy {
	if maxDownloadAttempts <= 0 {
		maxDownloadAttempts = maxDownloadAttemptsDefault
	}

	reason := lib.FailureReason
	switch {
	case urlLevelReasons[reason], transientReasons[reason]:
		if lib.DownloadAttempts < maxDownloadAttempts {
			return RetrySameURL
		}
		return RetryAlternativeURL

	case extractionReasons[reason]:
		if lib.ExtractionAttempts >= maxExtractionAttemptsLadder {
			return RetryAlternativeURL
		}
		return RetrySameURL

	case systemReasons[reason]:
		return RetryManualIntervention

	default:
		return RetrySameURL
	}
}

// RetryAction records what the monitor did for one library, for reporting.
type RetryAction struct {
	TaxonomyName    string
	TaxonomyVersion string
	Strategy        RetryStrategy
	NewURL          string
	ManualRequired  bool
}

// RetryMonitor periodically scans failed taxonomy downloads and escalates
// them through spec §4.13's retry ladder: same URL, then an alternative
// URL, then a formatted manual-intervention report.
type RetryMonitor struct {
	repo                db.Repository
	maxTotalAttempts    int
	maxDownloadAttempts int
}

// NewRetryMonitor constructs a RetryMonitor. maxTotalAttempts and
// maxDownloadAttempts are retry.max_total_attempts/max_download_attempts
// (spec §6).
func NewRetryMonitor(repo db.Repository, maxTotalAttempts, maxDownloadAttempts int) *RetryMonitor {
	return &RetryMonitor{repo: repo, maxTotalAttempts: maxTotalAttempts, maxDownloadAttempts: maxDownloadAttempts}
}

// Run scans every failed library with total_attempts below the ceiling and
// applies its retry strategy, returning the actions taken. Libraries that
// have exhausted the ceiling are reported but left untouched for a human
// to resolve via the manual-download path (spec §4.13, supplemented
// manual-processing feature).
func (m *RetryMonitor) Run(ctx context.Context) ([]RetryAction, []string, error) {
	failed, err := m.repo.ListFailedTaxonomies(ctx, m.maxTotalAttempts)
	if err != nil {
		return nil, nil, err
	}

	var actions []RetryAction
	var manualReports []string

	for _, lib := range failed {
		if lib.TotalAttempts >= m.maxTotalAttempts {
			manualReports = append(manualReports, formatPersistentFailureReport(lib))
			if err := m.repo.EnqueueDLQ(ctx, dlqEntryFor(lib)); err != nil {
				zap.L().Error("taxonomy: failed to enqueue dead letter",
					zap.String("taxonomy", lib.TaxonomyName), zap.String("version", lib.TaxonomyVersion), zap.Error(err))
			}
			continue
		}

		action, err := m.handle(ctx, lib)
		if err != nil {
			zap.L().Error("taxonomy: retry handling failed",
				zap.String("taxonomy", lib.TaxonomyName), zap.String("version", lib.TaxonomyVersion), zap.Error(err))
			continue
		}
		actions = append(actions, action)
		if action.ManualRequired {
			manualReports = append(manualReports, formatManualInterventionReport(lib))
		}
	}

	return actions, manualReports, nil
}

func (m *RetryMonitor) handle(ctx context.Context, lib model.TaxonomyLibrary) (RetryAction, error) {
	strategy := ClassifyRetry(lib, m.maxDownloadAttempts)
	action := RetryAction{TaxonomyName: lib.TaxonomyName, TaxonomyVersion: lib.TaxonomyVersion, Strategy: strategy}

	switch strategy {
	case RetrySameURL:
		if err := m.repo.ResetTaxonomyPending(ctx, lib.LibraryID); err != nil {
			return action, err
		}
		return action, nil

	case RetryAlternativeURL:
		resolved := ResolvedNamespace{
			TaxonomyName:    lib.TaxonomyName,
			TaxonomyVersion: lib.TaxonomyVersion,
			Authority:       authorityFromNamespace(lib.TaxonomyNamespace),
			DownloadURL:     lib.CurrentURL,
		}
		candidates := AlternativeURLs(resolved, lib.AlternativesTried)
		if len(candidates) == 0 {
			action.ManualRequired = true
			if err := m.repo.FailTaxonomyDownload(ctx, lib.LibraryID, "no_alternative_url", "all URLs exhausted, no alternatives available"); err != nil {
				return action, err
			}
			return action, nil
		}

		next := candidates[0]
		action.NewURL = next
		if err := m.repo.SetTaxonomyRetryURL(ctx, lib.LibraryID, next, lib.CurrentURL); err != nil {
			return action, err
		}
		return action, nil

	case RetryManualIntervention:
		action.ManualRequired = true
		return action, nil
	}

	return action, nil
}

func authorityFromNamespace(namespace string) string {
	resolved := ResolveNamespace(namespace)
	return resolved.Authority
}

// dlqEntryFor builds the dead-letter record for a library that exhausted
// retry.max_total_attempts (spec §4.13 persistent-failure branch).
func dlqEntryFor(lib model.TaxonomyLibrary) resilience.DLQEntry {
	errorType := "permanent"
	if urlLevelReasons[lib.FailureReason] || transientReasons[lib.FailureReason] {
		errorType = "transient"
	}
	return resilience.DLQEntry{
		LibraryID:       lib.LibraryID,
		TaxonomyName:    lib.TaxonomyName,
		TaxonomyVersion: lib.TaxonomyVersion,
		FailureReason:   lib.FailureReason,
		ErrorType:       errorType,
		TotalAttempts:   lib.TotalAttempts,
		URLsTried:       lib.AlternativesTried,
	}
}

func formatPersistentFailureReport(lib model.TaxonomyLibrary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PERSISTENT DOWNLOAD FAILURE - MANUAL DOWNLOAD REQUIRED\n")
	fmt.Fprintf(&b, "Library: %s v%s\n", lib.TaxonomyName, lib.TaxonomyVersion)
	fmt.Fprintf(&b, "Attempts: %d\n", lib.TotalAttempts)
	fmt.Fprintf(&b, "Last failure: %s\n", lib.FailureReason)
	fmt.Fprintf(&b, "URLs tried:\n")
	for _, u := range lib.AlternativesTried {
		fmt.Fprintf(&b, "  - %s\n", u)
	}
	fmt.Fprintf(&b, "Place a manually downloaded archive in the manual_downloads directory and run the library CLI with --process-manual.\n")
	return b.String()
}

func formatManualInterventionReport(lib model.TaxonomyLibrary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MANUAL INTERVENTION REQUIRED\n")
	fmt.Fprintf(&b, "Library: %s v%s\n", lib.TaxonomyName, lib.TaxonomyVersion)
	fmt.Fprintf(&b, "Issue: %s\n", lib.FailureReason)
	return b.String()
}
