package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
)

func newTestSECSearcher(t *testing.T, handler http.HandlerFunc) (*SECSearcher, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewSECSearcher(srv.Client(), fetcher.MarketPolicy{SECUserAgent: "test-agent test@example.com"}).
		WithBaseURLs(srv.URL+"/submissions/", srv.URL+"/archives/", srv.URL+"/tickers.json")
	return s, srv.URL
}

const testSubmissionsJSON = `{
	"name": "Example Corp",
	"filings": {
		"recent": {
			"accessionNumber": ["0001-23-000010", "0001-23-000011", "0001-22-000009"],
			"filingDate": ["2023-03-01", "2023-06-01", "2022-03-01"],
			"form": ["10-K", "10-Q", "10-K"]
		}
	}
}`

func TestSECSearcher_SearchByIdentifier_NumericCIK(t *testing.T) {
	s, _ := newTestSECSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/submissions/"):
			w.Write([]byte(testSubmissionsJSON)) //nolint:errcheck
		case strings.Contains(r.URL.Path, "index.json"):
			w.Write([]byte(`{"directory":{"item":[{"name":"example-xbrl.zip"}]}}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	results, err := s.SearchByIdentifier(context.Background(), "320193", "10-K", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Example Corp", results[0].CompanyName)
	assert.Equal(t, model.MarketSEC, results[0].MarketID)
	assert.True(t, strings.HasSuffix(results[0].FilingURL, "example-xbrl.zip"))
}

func TestSECSearcher_SearchByIdentifier_TickerResolution(t *testing.T) {
	s, _ := newTestSECSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "tickers.json"):
			w.Write([]byte(`[{"ticker":"EXCO","cik_str":320193}]`)) //nolint:errcheck
		case strings.HasPrefix(r.URL.Path, "/submissions/"):
			assert.Equal(t, "/submissions/CIK0000320193.json", r.URL.Path)
			w.Write([]byte(testSubmissionsJSON)) //nolint:errcheck
		case strings.Contains(r.URL.Path, "index.json"):
			w.Write([]byte(`{"directory":{"item":[{"name":"example-xbrl.zip"}]}}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	results, err := s.SearchByIdentifier(context.Background(), "exco", "10-K", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSECSearcher_SearchByIdentifier_DateRangeFilter(t *testing.T) {
	s, _ := newTestSECSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/submissions/"):
			w.Write([]byte(testSubmissionsJSON)) //nolint:errcheck
		case strings.Contains(r.URL.Path, "index.json"):
			w.Write([]byte(`{"directory":{"item":[{"name":"example-xbrl.zip"}]}}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	results, err := s.SearchByIdentifier(context.Background(), "320193", "10-K", 10, "2023-01-01", "2023-12-31")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2023-03-01", results[0].FilingDate)
}

func TestSECSearcher_FindZIPURL_FallsBackToPatternWithHEAD(t *testing.T) {
	var headHit string
	s, _ := newTestSECSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/submissions/"):
			w.Write([]byte(testSubmissionsJSON)) //nolint:errcheck
		case strings.Contains(r.URL.Path, "index.json"):
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodHead:
			if strings.HasSuffix(r.URL.Path, "-xbrl.zip") && strings.Contains(r.URL.Path, "0001-23-000010") {
				headHit = r.URL.Path
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	results, err := s.SearchByIdentifier(context.Background(), "320193", "10-K", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, headHit)
}

func TestSECSearcher_ResolveCIK_UnknownTickerErrors(t *testing.T) {
	s, _ := newTestSECSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ticker":"AAA","cik_str":1}]`)) //nolint:errcheck
	})

	_, err := s.resolveCIK(context.Background(), "zzz")
	assert.Error(t, err)
}

func TestSECSearcher_NormalizeFormType(t *testing.T) {
	s := NewSECSearcher(nil, fetcher.MarketPolicy{})
	assert.Equal(t, "10-K", s.normalizeFormType("10k"))
	assert.Equal(t, "10-Q", s.normalizeFormType("10 Q"))
	assert.Equal(t, "8-K", s.normalizeFormType("8K"))
	assert.Equal(t, "S-1", s.normalizeFormType("S-1"))
}

func TestSECSearcher_FetchSubmissions_NotFound(t *testing.T) {
	s, _ := newTestSECSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := s.fetchSubmissions(context.Background(), fmt.Sprintf("%010d", 9999999))
	assert.Error(t, err)
}
