package db

import (
	"context"

	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// Repository is the typed access layer over entities, filing search
// records, downloaded filings, and taxonomy libraries (spec §2, DB
// Repository row). Every method that records a terminal "completed" state
// is called only after its caller has verified the corresponding on-disk
// artifact — this package itself enforces no such invariant, it just
// persists what it's told.
type Repository interface {
	// Entities
	UpsertEntity(ctx context.Context, marketType model.MarketType, marketEntityID, companyName string) (model.Entity, error)
	GetEntity(ctx context.Context, entityID string) (model.Entity, error)

	// Filing searches
	CreateFilingSearch(ctx context.Context, f model.FilingSearch) (created bool, err error)
	GetPendingDownloads(ctx context.Context, limit int) ([]model.FilingSearch, error)
	GetFilingSearch(ctx context.Context, searchID string) (model.FilingSearch, error)
	// ClaimDownload atomically transitions a row from pending or failed to downloading,
	// returning false (no error) if another coordinator already claimed it
	// (spec §4.7's conditional UPDATE ownership mechanism).
	ClaimDownload(ctx context.Context, searchID string) (claimed bool, err error)
	CompleteFilingDownload(ctx context.Context, searchID string) error
	FailFilingDownload(ctx context.Context, searchID string, stage model.ErrorStage, message string) error

	// Downloaded filings
	CreateDownloadedFiling(ctx context.Context, d model.DownloadedFiling) error

	// Taxonomy libraries
	UpsertTaxonomyLibrary(ctx context.Context, lib model.TaxonomyLibrary, requiredBy string) (created bool, skipped bool, err error)
	GetTaxonomyByNamespace(ctx context.Context, namespace string) (model.TaxonomyLibrary, bool, error)
	GetTaxonomyByNameVersion(ctx context.Context, name, version string) (model.TaxonomyLibrary, bool, error)
	GetPendingTaxonomies(ctx context.Context, limit int) ([]model.TaxonomyLibrary, error)
	ClaimTaxonomyDownload(ctx context.Context, libraryID string) (claimed bool, err error)
	CompleteTaxonomyDownload(ctx context.Context, libraryID, directory string, totalFiles int) error
	FailTaxonomyDownload(ctx context.Context, libraryID string, reason, message string) error
	MarkTaxonomyInactive(ctx context.Context, libraryID string) error
	ListFailedTaxonomies(ctx context.Context, maxTotalAttempts int) ([]model.TaxonomyLibrary, error)
	SetTaxonomyRetryURL(ctx context.Context, libraryID, newURL string, triedURL string) error
	ResetTaxonomyPending(ctx context.Context, libraryID string) error

	// Markets (seed data, spec §6)
	SeedMarkets(ctx context.Context, markets []model.Market) error

	// Dead letter queue (spec §4.13 persistent-failure branch): libraries
	// that exhausted the retry ladder land here for manual resolution.
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
}
