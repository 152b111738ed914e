package market

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// Orchestrator runs a market search and persists whatever it finds:
// find-or-create the filer Entity, then insert one pending FilingSearch
// row per discovered filing (spec §4.14's search-then-save sequencing).
type Orchestrator struct {
	repo     db.Repository
	registry *Registry
}

// NewOrchestrator constructs an Orchestrator over repo and registry.
func NewOrchestrator(repo db.Repository, registry *Registry) *Orchestrator {
	return &Orchestrator{repo: repo, registry: registry}
}

// SearchAndSave searches marketID by identifier and persists every result.
// It returns the number of FilingSearch rows newly created; filings that
// already exist (same entity + accession number, I3) are silently skipped.
func (o *Orchestrator) SearchAndSave(ctx context.Context, marketID model.MarketType, identifier, formType string, maxResults int, startDate, endDate string) (int, error) {
	searcher, ok := o.registry.Get(marketID)
	if !ok {
		return 0, eris.Errorf("market: no searcher registered for %q", marketID)
	}

	filings, err := searcher.SearchByIdentifier(ctx, identifier, formType, maxResults, startDate, endDate)
	if err != nil {
		return 0, eris.Wrapf(err, "market: search %s/%s", marketID, identifier)
	}

	return o.saveResults(ctx, filings)
}

// SearchByNameAndSave searches marketID by company name and persists every
// result.
func (o *Orchestrator) SearchByNameAndSave(ctx context.Context, marketID model.MarketType, companyName, formType string, maxResults int, startDate, endDate string) (int, error) {
	searcher, ok := o.registry.Get(marketID)
	if !ok {
		return 0, eris.Errorf("market: no searcher registered for %q", marketID)
	}

	filings, err := searcher.SearchByCompanyName(ctx, companyName, formType, maxResults, startDate, endDate)
	if err != nil {
		return 0, eris.Wrapf(err, "market: search %s/%s", marketID, companyName)
	}

	return o.saveResults(ctx, filings)
}

func (o *Orchestrator) saveResults(ctx context.Context, filings []model.Filing) (int, error) {
	created := 0
	for _, f := range filings {
		entity, err := o.repo.UpsertEntity(ctx, f.MarketID, f.MarketEntityID, f.CompanyName)
		if err != nil {
			return created, eris.Wrapf(err, "market: upsert entity %s/%s", f.MarketID, f.MarketEntityID)
		}

		fs := model.FilingSearch{
			EntityID:        entity.EntityID,
			MarketType:      f.MarketID,
			FormType:        f.FormType,
			FilingDate:      f.FilingDate,
			FilingURL:       f.FilingURL,
			AccessionNumber: f.AccessionNumber,
			SearchMetadata: map[string]string{
				"company_name":     f.CompanyName,
				"market_entity_id": f.MarketEntityID,
			},
			DownloadStatus:   model.StatusPending,
			ExtractionStatus: model.StatusPending,
		}

		wasCreated, err := o.repo.CreateFilingSearch(ctx, fs)
		if err != nil {
			return created, eris.Wrapf(err, "market: create filing search %s/%s", f.MarketID, f.AccessionNumber)
		}
		if wasCreated {
			created++
		} else {
			zap.L().Debug("market: filing already known, skipped",
				zap.String("market", string(f.MarketID)),
				zap.String("accession", f.AccessionNumber),
			)
		}
	}

	return created, nil
}

// SaveTaxonomyToDatabase records a taxonomy library discovered while
// processing a filing, associating it with the filing that required it
// (spec §4.11's dual-verification model begins at this row).
func (o *Orchestrator) SaveTaxonomyToDatabase(ctx context.Context, name, version, namespace, sourceURL string, requiredByFiling string) (created bool, err error) {
	lib := model.TaxonomyLibrary{
		TaxonomyName:      name,
		TaxonomyVersion:   version,
		TaxonomyNamespace: namespace,
		SourceURL:         sourceURL,
		DownloadStatus:    model.StatusPending,
	}

	created, _, err = o.repo.UpsertTaxonomyLibrary(ctx, lib, requiredByFiling)
	if err != nil {
		return false, eris.Wrapf(err, "market: save taxonomy %s/%s", name, version)
	}
	return created, nil
}
