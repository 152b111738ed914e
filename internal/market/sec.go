package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
)

const (
	secSubmissionsBaseURL = "https://data.sec.gov/submissions/"
	secArchivesBaseURL    = "https://www.sec.gov/Archives/edgar/data/"
	secTickersURL         = "https://www.sec.gov/files/company_tickers.json"
)

// secFormTypeAliases normalizes common shorthand into EDGAR's official form
// codes ("10K"/"10k"/"10 k" -> "10-K").
var secFormTypeAliases = map[string]string{
	"10k":     "10-K",
	"10q":     "10-Q",
	"8k":      "8-K",
	"20f":     "20-F",
	"40f":     "40-F",
	"6k":      "6-K",
	"annual":  "10-K",
	"quarterly": "10-Q",
}

var accessionDashes = regexp.MustCompile(`[^0-9]`)

// SECSearcher discovers filings in SEC EDGAR's submissions API.
//
// Workflow: resolve identifier -> CIK, fetch submissions.json, filter by
// form type and date, then locate the XBRL distribution for each match via
// its filing index.json or, failing that, a small set of well-known URL
// patterns validated with a HEAD request.
type SECSearcher struct {
	client *http.Client
	policy fetcher.MarketPolicy

	submissionsBaseURL string
	archivesBaseURL    string
	tickersURL         string

	mu          sync.Mutex
	tickerToCIK map[string]string // uppercased ticker -> zero-padded 10-digit CIK
}

// NewSECSearcher constructs a SECSearcher against the live data.sec.gov and
// www.sec.gov hosts. client is used for both the JSON API and the HEAD
// existence checks; a nil client falls back to http.DefaultClient.
func NewSECSearcher(client *http.Client, policy fetcher.MarketPolicy) *SECSearcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SECSearcher{
		client:             client,
		policy:             policy,
		submissionsBaseURL: secSubmissionsBaseURL,
		archivesBaseURL:    secArchivesBaseURL,
		tickersURL:         secTickersURL,
	}
}

// WithBaseURLs overrides the submissions/archives/tickers hosts, for
// testing against an httptest server instead of the live SEC endpoints.
func (s *SECSearcher) WithBaseURLs(submissionsBaseURL, archivesBaseURL, tickersURL string) *SECSearcher {
	s.submissionsBaseURL = submissionsBaseURL
	s.archivesBaseURL = archivesBaseURL
	s.tickersURL = tickersURL
	return s
}

func (s *SECSearcher) SearchByIdentifier(ctx context.Context, identifier, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error) {
	normalizedForm := s.normalizeFormType(formType)

	cik, err := s.resolveCIK(ctx, identifier)
	if err != nil {
		return nil, eris.Wrapf(err, "sec: resolve identifier %q", identifier)
	}

	submissions, err := s.fetchSubmissions(ctx, cik)
	if err != nil {
		return nil, eris.Wrapf(err, "sec: fetch submissions for CIK %s", cik)
	}

	companyName, _ := submissions["name"].(string)
	if companyName == "" {
		companyName = identifier
	}

	recent, ok := navMap(submissions, "filings", "recent")
	if !ok {
		zap.L().Warn("sec: no recent filings in submissions", zap.String("cik", cik))
		return nil, nil
	}

	accessions := stringSlice(recent["accessionNumber"])
	dates := stringSlice(recent["filingDate"])
	forms := stringSlice(recent["form"])

	var results []model.Filing
	n := minInt(len(accessions), minInt(len(dates), len(forms)))
	for i := 0; i < n && len(results) < maxResults; i++ {
		form := forms[i]
		date := dates[i]
		accession := accessions[i]

		if form != normalizedForm {
			continue
		}
		if startDate != "" && date < startDate {
			continue
		}
		if endDate != "" && date > endDate {
			continue
		}

		zipURL, err := s.findZIPURL(ctx, cik, accession)
		if err != nil || zipURL == "" {
			if err != nil {
				zap.L().Debug("sec: no XBRL distribution found", zap.String("accession", accession), zap.Error(err))
			}
			continue
		}

		results = append(results, buildFiling(zipURL, form, date, companyName, cik, accession, model.MarketSEC))
	}

	return results, nil
}

func (s *SECSearcher) SearchByCompanyName(ctx context.Context, companyName, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error) {
	return s.SearchByIdentifier(ctx, companyName, formType, maxResults, startDate, endDate)
}

func (s *SECSearcher) normalizeFormType(formType string) string {
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(formType), " ", ""))
	if normalized, ok := secFormTypeAliases[clean]; ok {
		return normalized
	}
	return strings.TrimSpace(formType)
}

// resolveCIK resolves a CIK, ticker, or company name to a zero-padded
// 10-digit CIK. A purely numeric identifier is treated as a CIK directly;
// anything else is looked up against SEC's ticker directory.
func (s *SECSearcher) resolveCIK(ctx context.Context, identifier string) (string, error) {
	trimmed := strings.TrimSpace(identifier)
	if isAllDigits(trimmed) {
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return "", eris.Wrap(err, "sec: parse numeric CIK")
		}
		return fmt.Sprintf("%010d", n), nil
	}

	tickers, err := s.tickerMap(ctx)
	if err != nil {
		return "", err
	}
	if cik, ok := tickers[strings.ToUpper(trimmed)]; ok {
		return cik, nil
	}
	return "", eris.Errorf("sec: no CIK found for identifier %q", identifier)
}

// tickerMap loads and caches SEC's ticker->CIK directory on first use.
func (s *SECSearcher) tickerMap(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickerToCIK != nil {
		return s.tickerToCIK, nil
	}

	body, err := s.getJSON(ctx, s.tickersURL)
	if err != nil {
		return nil, eris.Wrap(err, "sec: fetch company_tickers.json")
	}

	tickers := make(map[string]string)
	for _, entry := range body {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		ticker, _ := row["ticker"].(string)
		cikFloat, _ := row["cik_str"].(float64)
		if ticker == "" || cikFloat == 0 {
			continue
		}
		tickers[strings.ToUpper(ticker)] = fmt.Sprintf("%010d", int(cikFloat))
	}

	s.tickerToCIK = tickers
	return tickers, nil
}

func (s *SECSearcher) fetchSubmissions(ctx context.Context, cik string) (map[string]any, error) {
	url := s.submissionsBaseURL + "CIK" + cik + ".json"
	var data map[string]any
	if err := s.getJSONInto(ctx, url, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// findZIPURL locates a filing's XBRL ZIP, first via its index.json (which
// not every filing has), falling back to a small set of well-known naming
// patterns validated with a HEAD request.
func (s *SECSearcher) findZIPURL(ctx context.Context, cik, accession string) (string, error) {
	cikNoZeros := strconv.Itoa(mustAtoi(cik))
	accessionNoDashes := accessionDashes.ReplaceAllString(accession, "")

	indexURL := s.archivesBaseURL + cikNoZeros + "/" + accessionNoDashes + "/index.json"
	var index map[string]any
	if err := s.getJSONInto(ctx, indexURL, &index); err == nil {
		if zipURL := findXBRLZipInIndex(index, s.archivesBaseURL+cikNoZeros+"/"+accessionNoDashes+"/"); zipURL != "" {
			return zipURL, nil
		}
	}

	accessionUnderscore := strings.ReplaceAll(accession, "-", "_")
	base := s.archivesBaseURL + cikNoZeros + "/" + accessionNoDashes + "/"
	candidates := []string{
		base + accession + "-xbrl.zip",
		base + accessionUnderscore + "_htm.zip",
		base + accessionNoDashes + "-xbrl.zip",
		base + accessionUnderscore + "_xbrl.zip",
	}

	for _, candidate := range candidates {
		if s.urlExists(ctx, candidate) {
			return candidate, nil
		}
	}

	return "", nil
}

func findXBRLZipInIndex(index map[string]any, baseURL string) string {
	directory, ok := index["directory"].(map[string]any)
	if !ok {
		return ""
	}
	items, ok := directory["item"].([]any)
	if !ok {
		return ""
	}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := item["name"].(string)
		lower := strings.ToLower(name)
		if strings.HasSuffix(lower, ".zip") && (strings.Contains(lower, "xbrl") || strings.Contains(lower, "htm")) {
			return baseURL + name
		}
	}
	return ""
}

func (s *SECSearcher) getJSON(ctx context.Context, url string) ([]any, error) {
	var data []any
	if err := s.getJSONInto(ctx, url, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *SECSearcher) getJSONInto(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "sec: build request")
	}
	s.policy.ApplyHeaders(req, url)

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "sec: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return eris.Errorf("sec: %s not found", url)
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("sec: unexpected status %d from %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "sec: decode JSON")
	}
	return nil
}

func (s *SECSearcher) urlExists(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	s.policy.ApplyHeaders(req, url)

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

func navMap(m map[string]any, keys ...string) (map[string]any, bool) {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, _ := item.(string)
		out = append(out, s)
	}
	return out
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimLeft(s, "0"))
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
