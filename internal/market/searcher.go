// Package market implements per-regulator filing discovery: resolving a
// company identifier to its filings via the SEC, UK Companies House, and
// ESEF aggregator APIs, normalized into a single result shape the
// acquisition pipeline never has to special-case by market (spec §4.14).
package market

import (
	"context"

	"github.com/sells-group/filing-acquirer/internal/model"
)

// Searcher discovers candidate filings for one market. Implementations
// never return market-specific dict shapes — every result is normalized
// via buildFiling before it leaves the package.
type Searcher interface {
	// SearchByIdentifier looks up filings for a market-native identifier
	// (CIK/ticker for SEC, company number for UK Companies House, LEI for
	// ESEF). startDate/endDate are YYYY-MM-DD, empty meaning unbounded.
	SearchByIdentifier(ctx context.Context, identifier, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error)

	// SearchByCompanyName looks up filings by company name where the
	// market's API supports it; markets that don't (UK Companies House)
	// return an error rather than guessing at a match.
	SearchByCompanyName(ctx context.Context, companyName, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error)
}

// buildFiling normalizes one discovered filing into the shape every market
// searcher returns, mirroring the original's BaseSearcher._build_result_dict.
func buildFiling(filingURL, formType, filingDate, companyName, marketEntityID, accessionNumber string, marketID model.MarketType) model.Filing {
	return model.Filing{
		FilingURL:       filingURL,
		FormType:        formType,
		FilingDate:      filingDate,
		CompanyName:     companyName,
		MarketEntityID:  marketEntityID,
		AccessionNumber: accessionNumber,
		MarketID:        marketID,
	}
}

// Registry dispatches a market identifier to its Searcher, the Go
// equivalent of the original's import-time self-registering dict: wired
// explicitly at startup instead of via side-effecting imports.
type Registry struct {
	searchers map[model.MarketType]Searcher
}

// NewRegistry builds a Registry from an explicit market->Searcher mapping.
func NewRegistry(searchers map[model.MarketType]Searcher) *Registry {
	r := &Registry{searchers: make(map[model.MarketType]Searcher, len(searchers))}
	for k, v := range searchers {
		r.searchers[k] = v
	}
	return r
}

// Get returns the Searcher registered for marketID, or false if none is.
func (r *Registry) Get(marketID model.MarketType) (Searcher, bool) {
	s, ok := r.searchers[marketID]
	return s, ok
}
