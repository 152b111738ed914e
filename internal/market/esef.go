package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-acquirer/internal/model"
)

const esefDefaultBaseURL = "https://filings.xbrl.org"

var esefLEIPattern = regexp.MustCompile(`^[A-Z0-9]{18}[0-9]{2}$`)

// esefFormTypeAliases normalizes common shorthand into filings.xbrl.org's
// report_type vocabulary. The API itself doesn't support filtering by
// report type; the normalized value is stamped as each result's FormType,
// and results are not filtered by report type on the client either.
var esefFormTypeAliases = map[string]string{
	"annual":    "AFR",
	"10-k":      "AFR",
	"10k":       "AFR",
	"semiannual": "SFR",
}

// ESEFSearcher discovers filings via filings.xbrl.org's JSON:API, covering
// ESEF filers across the EU plus UKSEF filers once the UK adopted the same
// format post-Brexit.
type ESEFSearcher struct {
	client  *http.Client
	baseURL string
}

// NewESEFSearcher constructs an ESEFSearcher. An empty baseURL defaults to
// the public filings.xbrl.org host.
func NewESEFSearcher(client *http.Client, baseURL string) *ESEFSearcher {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = esefDefaultBaseURL
	}
	return &ESEFSearcher{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *ESEFSearcher) SearchByIdentifier(ctx context.Context, identifier, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error) {
	reportType := s.normalizeFormType(formType)

	params := url.Values{}
	if esefLEIPattern.MatchString(strings.ToUpper(identifier)) {
		params.Set("filter[entity.identifier]", strings.ToUpper(identifier))
	} else {
		// filings.xbrl.org has no entity-name filter; without a resolved
		// LEI there is nothing server-side to narrow the query with, so
		// every result is filtered client-side below instead.
	}
	if startDate != "" {
		params.Set("filter[period_end][gte]", startDate)
	}
	if endDate != "" {
		params.Set("filter[period_end][lte]", endDate)
	}
	params.Set("page[number]", "1")
	params.Set("page[size]", strconv.Itoa(clampInt(maxResults, 1, 200)))
	params.Set("include", "entity")
	params.Set("sort", "-processed")

	requestURL := s.baseURL + "/api/filings?" + params.Encode()

	var response map[string]any
	if err := s.getJSON(ctx, requestURL, &response); err != nil {
		return nil, eris.Wrap(err, "esef: fetch filings")
	}
	if response == nil {
		return nil, nil
	}

	filings := parseFilingsResponse(response)

	var results []model.Filing
	for _, f := range filings {
		if len(results) >= maxResults {
			break
		}
		downloadURL := s.filingDownloadURL(f)
		if downloadURL == "" {
			continue
		}

		entity, _ := f["entity"].(map[string]any)
		entityName, _ := entity["name"].(string)
		lei, _ := entity["lei"].(string)
		if lei == "" {
			lei, _ = entity["id"].(string)
		}
		periodEnd, _ := f["period_end"].(string)
		filingID, _ := f["filing_id"].(string)

		if !esefLEIPattern.MatchString(strings.ToUpper(identifier)) && entityName != "" &&
			!strings.Contains(strings.ToLower(entityName), strings.ToLower(identifier)) {
			continue
		}
		if esefLEIPattern.MatchString(strings.ToUpper(identifier)) && lei != "" &&
			!strings.EqualFold(lei, identifier) {
			continue
		}

		results = append(results, buildFiling(downloadURL, reportType, periodEnd, entityName, lei, filingID, model.MarketESEF))
	}

	return results, nil
}

func (s *ESEFSearcher) SearchByCompanyName(ctx context.Context, companyName, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error) {
	return s.SearchByIdentifier(ctx, companyName, formType, maxResults, startDate, endDate)
}

func (s *ESEFSearcher) normalizeFormType(formType string) string {
	clean := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(formType), " ", ""), "-", ""))
	if normalized, ok := esefFormTypeAliases[clean]; ok {
		return normalized
	}
	return strings.ToUpper(strings.TrimSpace(formType))
}

// filingDownloadURL prefers the ZIP package (iXBRL document plus the full
// extension taxonomy and linkbases) over the bare report file.
func (s *ESEFSearcher) filingDownloadURL(filing map[string]any) string {
	if packageURL, _ := filing["package_url"].(string); packageURL != "" {
		return s.ensureFullURL(packageURL)
	}
	if reportURL, _ := filing["report_url"].(string); reportURL != "" {
		return s.ensureFullURL(reportURL)
	}
	return ""
}

func (s *ESEFSearcher) ensureFullURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if strings.HasPrefix(raw, "/") {
		return s.baseURL + raw
	}
	return s.baseURL + "/" + raw
}

func (s *ESEFSearcher) getJSON(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return eris.Wrap(err, "esef: build request")
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "esef: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("esef: unexpected status %d from %s", resp.StatusCode, requestURL)
	}

	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "esef: decode JSON")
}

// parseFilingsResponse flattens a JSON:API filings response into plain
// maps, resolving each filing's "entity" relationship against the
// response's "included" array.
func parseFilingsResponse(response map[string]any) []map[string]any {
	data, _ := response["data"].([]any)
	if len(data) == 0 {
		return nil
	}

	entityLookup := buildEntityLookup(response["included"])

	filings := make([]map[string]any, 0, len(data))
	for _, raw := range data {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if f := parseFilingItem(item, entityLookup); f != nil {
			filings = append(filings, f)
		}
	}
	return filings
}

func parseFilingItem(item map[string]any, entityLookup map[string]map[string]any) map[string]any {
	attrs, _ := item["attributes"].(map[string]any)
	if attrs == nil {
		attrs = map[string]any{}
	}

	filing := map[string]any{
		"filing_id":   item["id"],
		"filing_type": item["type"],
		"country":     attrs["country"],
		"period_end":  attrs["period_end"],
		"report_url":  attrs["report_url"],
		"package_url": attrs["package_url"],
	}

	relationships, _ := item["relationships"].(map[string]any)
	entityRel, _ := relationships["entity"].(map[string]any)
	entityData, _ := entityRel["data"].(map[string]any)
	if entityData != nil {
		entityID, _ := entityData["id"].(string)
		if entity, ok := entityLookup[entityID]; ok {
			filing["entity"] = entity
		} else {
			filing["entity"] = map[string]any{"id": entityID}
		}
	}

	return filing
}

func buildEntityLookup(included any) map[string]map[string]any {
	lookup := map[string]map[string]any{}
	items, _ := included.([]any)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		itemType, _ := item["type"].(string)
		itemID, _ := item["id"].(string)
		if itemType != "entity" || itemID == "" {
			continue
		}
		attrs, _ := item["attributes"].(map[string]any)
		lookup[itemID] = map[string]any{
			"id":      itemID,
			"name":    attrs["name"],
			"lei":     attrs["lei"],
			"country": attrs["country"],
		}
	}
	return lookup
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
