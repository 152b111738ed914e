package acquire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/filing-acquirer/internal/model"
)

func TestPathResolver_BuildFilingPath(t *testing.T) {
	p := NewPathResolver("/mnt/filings/entities", "/mnt/filings/taxonomies")
	f := model.FilingSearch{
		MarketType:      model.MarketSEC,
		FormType:        "10-K",
		AccessionNumber: "0001234567-24-000123",
	}
	got := p.BuildFilingPath(f, "Apple Inc.")
	assert.Equal(t, "/mnt/filings/entities/sec/Apple_Inc/filings/10-K/0001234567-24-000123", got)
}

func TestPathResolver_BuildFilingPathFallsBackOnEmptyCompanyName(t *testing.T) {
	p := NewPathResolver("/mnt/filings/entities", "/mnt/filings/taxonomies")
	f := model.FilingSearch{MarketType: model.MarketUKCH, FormType: "accounts", AccessionNumber: "abc123"}
	got := p.BuildFilingPath(f, "")
	assert.Equal(t, "/mnt/filings/entities/uk_ch/unknown_company/filings/accounts/abc123", got)
}

func TestPathResolver_BuildTaxonomyPath(t *testing.T) {
	p := NewPathResolver("/mnt/filings/entities", "/mnt/filings/taxonomies")
	lib := model.TaxonomyLibrary{TaxonomyName: "us-gaap", TaxonomyVersion: "2025"}
	assert.Equal(t, "/mnt/filings/taxonomies/us-gaap/2025", p.BuildTaxonomyPath(lib))
}

func TestNormalizeCompanyName_StripsUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "Foo_Bar__Co", normalizeCompanyName("Foo/Bar: Co"))
	assert.Equal(t, "Acme_Corp", normalizeCompanyName("Acme, Corp."))
}
