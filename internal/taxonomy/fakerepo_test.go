package taxonomy

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// fakeRepo is a minimal in-memory db.Repository stand-in, scoped to the
// taxonomy lifecycle methods this package's tests actually exercise.
type fakeRepo struct {
	mu sync.Mutex

	taxonomies map[string]model.TaxonomyLibrary // libraryID -> lib
	byNameVer  map[string]string                // "name/version" -> libraryID
	inactive   map[string]bool
	dlq        []resilience.DLQEntry
}

var _ db.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		taxonomies: map[string]model.TaxonomyLibrary{},
		byNameVer:  map[string]string{},
		inactive:   map[string]bool{},
	}
}

func (r *fakeRepo) seed(lib model.TaxonomyLibrary) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lib.LibraryID == "" {
		lib.LibraryID = uuid.NewString()
	}
	r.taxonomies[lib.LibraryID] = lib
	r.byNameVer[lib.TaxonomyName+"/"+lib.TaxonomyVersion] = lib.LibraryID
	return lib.LibraryID
}

func (r *fakeRepo) UpsertEntity(ctx context.Context, marketType model.MarketType, marketEntityID, companyName string) (model.Entity, error) {
	return model.Entity{}, nil
}

func (r *fakeRepo) GetEntity(ctx context.Context, entityID string) (model.Entity, error) {
	return model.Entity{}, nil
}

func (r *fakeRepo) CreateFilingSearch(ctx context.Context, f model.FilingSearch) (bool, error) {
	return false, nil
}

func (r *fakeRepo) GetPendingDownloads(ctx context.Context, limit int) ([]model.FilingSearch, error) {
	return nil, nil
}

func (r *fakeRepo) GetFilingSearch(ctx context.Context, searchID string) (model.FilingSearch, error) {
	return model.FilingSearch{}, nil
}

func (r *fakeRepo) ClaimDownload(ctx context.Context, searchID string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) CompleteFilingDownload(ctx context.Context, searchID string) error { return nil }

func (r *fakeRepo) FailFilingDownload(ctx context.Context, searchID string, stage model.ErrorStage, message string) error {
	return nil
}

func (r *fakeRepo) CreateDownloadedFiling(ctx context.Context, d model.DownloadedFiling) error {
	return nil
}

func (r *fakeRepo) UpsertTaxonomyLibrary(ctx context.Context, lib model.TaxonomyLibrary, requiredBy string) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lib.TaxonomyName + "/" + lib.TaxonomyVersion
	if id, ok := r.byNameVer[key]; ok {
		existing := r.taxonomies[id]
		if requiredBy != "" {
			existing.RequiredByFilings = append(existing.RequiredByFilings, requiredBy)
		}
		r.taxonomies[id] = existing
		return false, false, nil
	}

	lib.LibraryID = uuid.NewString()
	if requiredBy != "" {
		lib.RequiredByFilings = []string{requiredBy}
	}
	r.taxonomies[lib.LibraryID] = lib
	r.byNameVer[key] = lib.LibraryID
	return true, false, nil
}

func (r *fakeRepo) GetTaxonomyByNamespace(ctx context.Context, namespace string) (model.TaxonomyLibrary, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lib := range r.taxonomies {
		if lib.TaxonomyNamespace == namespace {
			return lib, true, nil
		}
	}
	return model.TaxonomyLibrary{}, false, nil
}

func (r *fakeRepo) GetTaxonomyByNameVersion(ctx context.Context, name, version string) (model.TaxonomyLibrary, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byNameVer[name+"/"+version]
	if !ok || r.inactive[id] {
		return model.TaxonomyLibrary{}, false, nil
	}
	return r.taxonomies[id], true, nil
}

func (r *fakeRepo) GetPendingTaxonomies(ctx context.Context, limit int) ([]model.TaxonomyLibrary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TaxonomyLibrary
	for _, lib := range r.taxonomies {
		if lib.DownloadStatus == model.StatusPending {
			out = append(out, lib)
		}
	}
	return out, nil
}

func (r *fakeRepo) ClaimTaxonomyDownload(ctx context.Context, libraryID string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) CompleteTaxonomyDownload(ctx context.Context, libraryID, directory string, totalFiles int) error {
	return nil
}

func (r *fakeRepo) FailTaxonomyDownload(ctx context.Context, libraryID string, reason, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib := r.taxonomies[libraryID]
	lib.FailureReason = reason
	r.taxonomies[libraryID] = lib
	return nil
}

func (r *fakeRepo) MarkTaxonomyInactive(ctx context.Context, libraryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inactive[libraryID] = true
	return nil
}

func (r *fakeRepo) ListFailedTaxonomies(ctx context.Context, maxTotalAttempts int) ([]model.TaxonomyLibrary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TaxonomyLibrary
	for _, lib := range r.taxonomies {
		if lib.DownloadStatus == model.StatusFailed && lib.TotalAttempts <= maxTotalAttempts {
			out = append(out, lib)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetTaxonomyRetryURL(ctx context.Context, libraryID, newURL string, triedURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib := r.taxonomies[libraryID]
	lib.AlternativesTried = append(lib.AlternativesTried, triedURL)
	lib.CurrentURL = newURL
	lib.DownloadStatus = model.StatusPending
	r.taxonomies[libraryID] = lib
	return nil
}

func (r *fakeRepo) ResetTaxonomyPending(ctx context.Context, libraryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib := r.taxonomies[libraryID]
	lib.DownloadStatus = model.StatusPending
	r.taxonomies[libraryID] = lib
	return nil
}

func (r *fakeRepo) SeedMarkets(ctx context.Context, markets []model.Market) error { return nil }

func (r *fakeRepo) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dlq = append(r.dlq, entry)
	return nil
}

func (r *fakeRepo) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]resilience.DLQEntry, len(r.dlq))
	copy(out, r.dlq)
	return out, nil
}
