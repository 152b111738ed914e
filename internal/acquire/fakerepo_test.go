package acquire

import (
	"context"
	"sync"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// fakeRepo is a minimal in-memory db.Repository stand-in used to exercise
// the coordinator and failure handler without a real database connection.
type fakeRepo struct {
	mu sync.Mutex

	entities   map[string]model.Entity
	filings    map[string]model.FilingSearch
	taxonomies map[string]model.TaxonomyLibrary
	downloaded []model.DownloadedFiling

	failFilingCalls   []string
	failTaxonomyCalls []string
}

var _ db.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		entities:   map[string]model.Entity{},
		filings:    map[string]model.FilingSearch{},
		taxonomies: map[string]model.TaxonomyLibrary{},
	}
}

func (r *fakeRepo) UpsertEntity(ctx context.Context, marketType model.MarketType, marketEntityID, companyName string) (model.Entity, error) {
	return model.Entity{}, nil
}

func (r *fakeRepo) GetEntity(ctx context.Context, entityID string) (model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entities[entityID], nil
}

func (r *fakeRepo) CreateFilingSearch(ctx context.Context, f model.FilingSearch) (bool, error) {
	return true, nil
}

func (r *fakeRepo) GetPendingDownloads(ctx context.Context, limit int) ([]model.FilingSearch, error) {
	return nil, nil
}

func (r *fakeRepo) GetFilingSearch(ctx context.Context, searchID string) (model.FilingSearch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filings[searchID], nil
}

func (r *fakeRepo) ClaimDownload(ctx context.Context, searchID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filings[searchID]
	if !ok || (f.DownloadStatus != model.StatusPending && f.DownloadStatus != model.StatusFailed) {
		return false, nil
	}
	f.DownloadStatus = model.StatusDownloading
	r.filings[searchID] = f
	return true, nil
}

func (r *fakeRepo) CompleteFilingDownload(ctx context.Context, searchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.filings[searchID]
	f.DownloadStatus = model.StatusCompleted
	r.filings[searchID] = f
	return nil
}

func (r *fakeRepo) FailFilingDownload(ctx context.Context, searchID string, stage model.ErrorStage, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failFilingCalls = append(r.failFilingCalls, searchID)
	f := r.filings[searchID]
	f.DownloadStatus = model.StatusFailed
	f.ErrorStage = string(stage)
	f.ErrorMessage = message
	r.filings[searchID] = f
	return nil
}

func (r *fakeRepo) CreateDownloadedFiling(ctx context.Context, d model.DownloadedFiling) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloaded = append(r.downloaded, d)
	return nil
}

func (r *fakeRepo) UpsertTaxonomyLibrary(ctx context.Context, lib model.TaxonomyLibrary, requiredBy string) (bool, bool, error) {
	return false, false, nil
}

func (r *fakeRepo) GetTaxonomyByNamespace(ctx context.Context, namespace string) (model.TaxonomyLibrary, bool, error) {
	return model.TaxonomyLibrary{}, false, nil
}

func (r *fakeRepo) GetTaxonomyByNameVersion(ctx context.Context, name, version string) (model.TaxonomyLibrary, bool, error) {
	return model.TaxonomyLibrary{}, false, nil
}

func (r *fakeRepo) GetPendingTaxonomies(ctx context.Context, limit int) ([]model.TaxonomyLibrary, error) {
	return nil, nil
}

func (r *fakeRepo) ClaimTaxonomyDownload(ctx context.Context, libraryID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib, ok := r.taxonomies[libraryID]
	if !ok || (lib.DownloadStatus != model.StatusPending && lib.DownloadStatus != model.StatusFailed) {
		return false, nil
	}
	lib.DownloadStatus = model.StatusDownloading
	r.taxonomies[libraryID] = lib
	return true, nil
}

func (r *fakeRepo) CompleteTaxonomyDownload(ctx context.Context, libraryID, directory string, totalFiles int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib := r.taxonomies[libraryID]
	lib.DownloadStatus = model.StatusCompleted
	lib.LibraryDirectory = directory
	lib.TotalFiles = totalFiles
	r.taxonomies[libraryID] = lib
	return nil
}

func (r *fakeRepo) FailTaxonomyDownload(ctx context.Context, libraryID string, reason, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failTaxonomyCalls = append(r.failTaxonomyCalls, libraryID)
	lib := r.taxonomies[libraryID]
	lib.DownloadStatus = model.StatusFailed
	lib.FailureReason = reason
	r.taxonomies[libraryID] = lib
	return nil
}

func (r *fakeRepo) MarkTaxonomyInactive(ctx context.Context, libraryID string) error { return nil }

func (r *fakeRepo) ListFailedTaxonomies(ctx context.Context, maxTotalAttempts int) ([]model.TaxonomyLibrary, error) {
	return nil, nil
}

func (r *fakeRepo) SetTaxonomyRetryURL(ctx context.Context, libraryID, newURL string, triedURL string) error {
	return nil
}

func (r *fakeRepo) ResetTaxonomyPending(ctx context.Context, libraryID string) error { return nil }

func (r *fakeRepo) SeedMarkets(ctx context.Context, markets []model.Market) error { return nil }

func (r *fakeRepo) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error { return nil }

func (r *fakeRepo) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return nil, nil
}
