package acquire

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// pendingItem is either a FilingSearch or a TaxonomyLibrary row, merged
// into one queue the way the original coordinator does (it type-switches
// on the record rather than keeping two separate queues), so claiming and
// concurrency limiting is uniform across both download kinds.
type pendingItem struct {
	kind     DownloadKind
	filing   model.FilingSearch
	taxonomy model.TaxonomyLibrary
}

// Coordinator drives the full state machine — claim, download/extract,
// validate, paranoid re-verify, commit — for both filing and taxonomy
// downloads (spec §4.7). Every step before the database commit is
// idempotent and safe to retry from "pending"/"failed"; the commit itself
// only ever runs after the on-disk artifact has been checked twice.
type Coordinator struct {
	repo         db.Repository
	paths        *PathResolver
	processor    *DistributionProcessor
	validator    *Validator
	failures     *FailureHandler
	maxConcurrent int
}

// NewCoordinator wires a Coordinator from its collaborators.
func NewCoordinator(repo db.Repository, paths *PathResolver, processor *DistributionProcessor, validator *Validator, failures *FailureHandler, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Coordinator{
		repo:          repo,
		paths:         paths,
		processor:     processor,
		validator:     validator,
		failures:      failures,
		maxConcurrent: maxConcurrent,
	}
}

// ProcessPendingDownloads fetches up to limit pending filings and up to
// limit pending taxonomies, merges them into one queue, and processes each
// with at most c.maxConcurrent running at once.
func (c *Coordinator) ProcessPendingDownloads(ctx context.Context, limit int) error {
	filings, err := c.repo.GetPendingDownloads(ctx, limit)
	if err != nil {
		return err
	}
	taxonomies, err := c.repo.GetPendingTaxonomies(ctx, limit)
	if err != nil {
		return err
	}

	items := make([]pendingItem, 0, len(filings)+len(taxonomies))
	for _, f := range filings {
		items = append(items, pendingItem{kind: DownloadKindFiling, filing: f})
	}
	for _, t := range taxonomies {
		items = append(items, pendingItem{kind: DownloadKindTaxonomy, taxonomy: t})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for _, item := range items {
		item := item
		g.Go(func() error {
			// Per-item failures are recorded in the database, not
			// propagated — one bad filing must never abort the batch.
			c.processSingleItem(gctx, item)
			return nil
		})
	}

	return g.Wait()
}

// ProcessFiling runs the full claim/download/validate/commit pipeline for
// one already-known filing row, without going back to the database to
// pick which pending row to work on. Exported for callers (the downloader
// CLI's selection flow) that need to process a specific, already-listed
// item rather than the next N pending rows.
func (c *Coordinator) ProcessFiling(ctx context.Context, f model.FilingSearch) {
	c.processSingleFiling(ctx, f)
}

// ProcessTaxonomy is ProcessFiling's taxonomy-library counterpart.
func (c *Coordinator) ProcessTaxonomy(ctx context.Context, lib model.TaxonomyLibrary) {
	c.processSingleTaxonomy(ctx, lib)
}

func (c *Coordinator) processSingleItem(ctx context.Context, item pendingItem) {
	if item.kind == DownloadKindFiling {
		c.processSingleFiling(ctx, item.filing)
		return
	}
	c.processSingleTaxonomy(ctx, item.taxonomy)
}

func (c *Coordinator) processSingleFiling(ctx context.Context, f model.FilingSearch) {
	claimed, err := c.repo.ClaimDownload(ctx, f.SearchID)
	if err != nil {
		zap.L().Error("acquire: claim filing download failed", zap.String("search_id", f.SearchID), zap.Error(err))
		return
	}
	if !claimed {
		// Another coordinator instance already owns this row.
		return
	}

	entity, err := c.repo.GetEntity(ctx, f.EntityID)
	companyName := "unknown_company"
	if err == nil {
		companyName = entity.CompanyName
	}

	targetDir := c.paths.BuildFilingPath(f, companyName)

	result := c.processor.DownloadAndExtract(ctx, f.FilingURL, targetDir)
	if !result.Success {
		c.failAndLog(ctx, DownloadKindFiling, f.SearchID, result)
		return
	}

	validation := c.validator.ValidateExtraction(targetDir, 1)
	if !validation.Valid {
		c.failAndLog(ctx, DownloadKindFiling, f.SearchID, model.ProcessingResult{
			Success:    false,
			ErrorStage: model.StageValidation,
		})
		return
	}

	// Paranoid re-verification, repeated immediately before the database
	// write: nothing may flip the row to "completed" on the strength of a
	// check performed even a few lines earlier (spec §3).
	reverify := c.validator.ValidateExtraction(targetDir, 1)
	if !reverify.Valid {
		c.failAndLog(ctx, DownloadKindFiling, f.SearchID, model.ProcessingResult{
			Success:    false,
			ErrorStage: model.StageVerification,
		})
		return
	}

	instancePath := c.validator.FindInstanceFile(targetDir)
	if err := c.repo.CreateDownloadedFiling(ctx, model.DownloadedFiling{
		SearchID:          f.SearchID,
		EntityID:          f.EntityID,
		DownloadDirectory: targetDir,
		InstanceFilePath:  instancePath,
	}); err != nil {
		// Database-write failures bypass the failure handler: the row is
		// marked failed at the database stage directly and the on-disk
		// artifact is left in place. A failed row can be claimed again, so
		// a later pass re-runs the whole item, download included.
		zap.L().Error("acquire: record downloaded filing failed", zap.String("search_id", f.SearchID), zap.Error(err))
		_ = c.repo.FailFilingDownload(ctx, f.SearchID, model.StageDatabase, err.Error())
		return
	}

	if err := c.repo.CompleteFilingDownload(ctx, f.SearchID); err != nil {
		zap.L().Error("acquire: complete filing download failed", zap.String("search_id", f.SearchID), zap.Error(err))
		_ = c.repo.FailFilingDownload(ctx, f.SearchID, model.StageDatabase, err.Error())
	}
}

func (c *Coordinator) processSingleTaxonomy(ctx context.Context, lib model.TaxonomyLibrary) {
	claimed, err := c.repo.ClaimTaxonomyDownload(ctx, lib.LibraryID)
	if err != nil {
		zap.L().Error("acquire: claim taxonomy download failed", zap.String("library_id", lib.LibraryID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	targetDir := c.paths.BuildTaxonomyPath(lib)
	url := lib.CurrentURL
	if url == "" {
		url = lib.SourceURL
	}

	result := c.processor.DownloadAndExtract(ctx, url, targetDir)
	if !result.Success {
		c.failAndLog(ctx, DownloadKindTaxonomy, lib.LibraryID, result)
		return
	}

	validation := c.validator.ValidateExtraction(targetDir, 1)
	if !validation.Valid {
		c.failAndLog(ctx, DownloadKindTaxonomy, lib.LibraryID, model.ProcessingResult{Success: false, ErrorStage: model.StageValidation})
		return
	}

	reverify := c.validator.ValidateExtraction(targetDir, 1)
	if !reverify.Valid {
		c.failAndLog(ctx, DownloadKindTaxonomy, lib.LibraryID, model.ProcessingResult{Success: false, ErrorStage: model.StageVerification})
		return
	}

	if err := c.repo.CompleteTaxonomyDownload(ctx, lib.LibraryID, targetDir, reverify.FileCount); err != nil {
		zap.L().Error("acquire: complete taxonomy download failed", zap.String("library_id", lib.LibraryID), zap.Error(err))
		_ = c.repo.FailTaxonomyDownload(ctx, lib.LibraryID, string(model.StageDatabase), err.Error())
	}
}

func (c *Coordinator) failAndLog(ctx context.Context, kind DownloadKind, id string, result model.ProcessingResult) {
	var err error
	if kind == DownloadKindFiling {
		err = c.failures.HandleFiling(ctx, id, result)
	} else {
		err = c.failures.HandleTaxonomy(ctx, id, result)
	}
	if err != nil {
		zap.L().Error("acquire: failure handler could not record failure", zap.String("id", id), zap.Error(err))
	}
}
