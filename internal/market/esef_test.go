package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-acquirer/internal/model"
)

const testESEFFilingsJSON = `{
	"data": [
		{
			"type": "filing",
			"id": "f1",
			"attributes": {
				"country": "NL",
				"period_end": "2023-12-31",
				"report_url": "/filings/f1/report.xhtml",
				"package_url": "/filings/f1/package.zip"
			},
			"relationships": {
				"entity": {"data": {"type": "entity", "id": "e1"}}
			}
		},
		{
			"type": "filing",
			"id": "f2",
			"attributes": {
				"country": "NL",
				"period_end": "2022-12-31",
				"report_url": "/filings/f2/report.xhtml"
			},
			"relationships": {
				"entity": {"data": {"type": "entity", "id": "e2"}}
			}
		}
	],
	"included": [
		{"type": "entity", "id": "e1", "attributes": {"name": "Acme Holdings NV", "lei": "724500ABCDEFGHIJKL12", "country": "NL"}},
		{"type": "entity", "id": "e2", "attributes": {"name": "Other Corp", "lei": "724500ZZZZZZZZZZZZ99", "country": "NL"}}
	]
}`

func newTestESEFSearcher(t *testing.T, handler http.HandlerFunc) *ESEFSearcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewESEFSearcher(srv.Client(), srv.URL)
}

func TestESEFSearcher_SearchByIdentifier_ByLEI(t *testing.T) {
	s := newTestESEFSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "724500ABCDEFGHIJKL12", r.URL.Query().Get("filter[entity.identifier]"))
		w.Write([]byte(testESEFFilingsJSON)) //nolint:errcheck
	})

	results, err := s.SearchByIdentifier(context.Background(), "724500ABCDEFGHIJKL12", "annual", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Acme Holdings NV", results[0].CompanyName)
	assert.Equal(t, model.MarketESEF, results[0].MarketID)
	assert.True(t, len(results[0].FilingURL) > 0)
	assert.Contains(t, results[0].FilingURL, "package.zip")
}

func TestESEFSearcher_SearchByIdentifier_ByNameFiltersClientSide(t *testing.T) {
	s := newTestESEFSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("filter[entity.identifier]"))
		w.Write([]byte(testESEFFilingsJSON)) //nolint:errcheck
	})

	results, err := s.SearchByIdentifier(context.Background(), "acme", "", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Acme Holdings NV", results[0].CompanyName)
}

func TestESEFSearcher_SearchByIdentifier_FallsBackToReportURLWithoutPackage(t *testing.T) {
	s := newTestESEFSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testESEFFilingsJSON)) //nolint:errcheck
	})

	results, err := s.SearchByIdentifier(context.Background(), "other corp", "", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].FilingURL, "report.xhtml")
}

func TestESEFLEIPattern(t *testing.T) {
	assert.True(t, esefLEIPattern.MatchString("724500ABCDEFGHIJKL12"))
	assert.False(t, esefLEIPattern.MatchString("not-a-lei"))
	assert.False(t, esefLEIPattern.MatchString("724500abcdefghijkl12"))
}

func TestESEFSearcher_NormalizeFormType(t *testing.T) {
	s := NewESEFSearcher(nil, "")
	assert.Equal(t, "AFR", s.normalizeFormType("annual"))
	assert.Equal(t, "AFR", s.normalizeFormType("10-K"))
	assert.Equal(t, "SFR", s.normalizeFormType("semiannual"))
	assert.Equal(t, "OTHER", s.normalizeFormType("other"))
}

func TestESEFSearcher_EnsureFullURL(t *testing.T) {
	s := NewESEFSearcher(nil, "https://filings.xbrl.org")
	assert.Equal(t, "https://example.com/x.zip", s.ensureFullURL("https://example.com/x.zip"))
	assert.Equal(t, "https://filings.xbrl.org/x.zip", s.ensureFullURL("/x.zip"))
	assert.Equal(t, "https://filings.xbrl.org/x.zip", s.ensureFullURL("x.zip"))
}
