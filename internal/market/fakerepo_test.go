package market

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// fakeRepo is a minimal in-memory db.Repository stand-in for exercising the
// orchestrator without a real database connection.
type fakeRepo struct {
	mu sync.Mutex

	entitiesByKey map[string]model.Entity // "marketType/marketEntityID" -> Entity
	filings       map[string]model.FilingSearch
	taxonomies    map[string]model.TaxonomyLibrary
}

var _ db.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		entitiesByKey: map[string]model.Entity{},
		filings:       map[string]model.FilingSearch{},
		taxonomies:    map[string]model.TaxonomyLibrary{},
	}
}

func entityKey(marketType model.MarketType, marketEntityID string) string {
	return string(marketType) + "/" + marketEntityID
}

func (r *fakeRepo) UpsertEntity(ctx context.Context, marketType model.MarketType, marketEntityID, companyName string) (model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entityKey(marketType, marketEntityID)
	if e, ok := r.entitiesByKey[key]; ok {
		return e, nil
	}
	e := model.Entity{EntityID: uuid.NewString(), MarketType: marketType, MarketEntityID: marketEntityID, CompanyName: companyName}
	r.entitiesByKey[key] = e
	return e, nil
}

func (r *fakeRepo) GetEntity(ctx context.Context, entityID string) (model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entitiesByKey {
		if e.EntityID == entityID {
			return e, nil
		}
	}
	return model.Entity{}, nil
}

func (r *fakeRepo) CreateFilingSearch(ctx context.Context, f model.FilingSearch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := f.EntityID + "/" + f.AccessionNumber
	if _, ok := r.filings[key]; ok {
		return false, nil
	}
	f.SearchID = uuid.NewString()
	r.filings[key] = f
	return true, nil
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
	if existing, ok := r.taxonomies[key]; ok {
		if requiredBy != "" {
			existing.RequiredByFilings = append(existing.RequiredByFilings, requiredBy)
			r.taxonomies[key] = existing
		}
		return false, false, nil
	}
	lib.LibraryID = uuid.NewString()
	if requiredBy != "" {
		lib.RequiredByFilings = []string{requiredBy}
	}
	r.taxonomies[key] = lib
	return true, false, nil
}

func (r *fakeRepo) GetTaxonomyByNamespace(ctx context.Context, namespace string) (model.TaxonomyLibrary, bool, error) {
	return model.TaxonomyLibrary{}, false, nil
}

func (r *fakeRepo) GetTaxonomyByNameVersion(ctx context.Context, name, version string) (model.TaxonomyLibrary, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib, ok := r.taxonomies[name+"/"+version]
	return lib, ok, nil
}

func (r *fakeRepo) GetPendingTaxonomies(ctx context.Context, limit int) ([]model.TaxonomyLibrary, error) {
	return nil, nil
}

func (r *fakeRepo) ClaimTaxonomyDownload(ctx context.Context, libraryID string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) CompleteTaxonomyDownload(ctx context.Context, libraryID, directory string, totalFiles int) error {
	return nil
}

func (r *fakeRepo) FailTaxonomyDownload(ctx context.Context, libraryID string, reason, message string) error {
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
