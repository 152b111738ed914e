package market

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-acquirer/internal/model"
)

const (
	ukchCategoryAccounts = "accounts"
)

var ukchCompanyNumberPattern = regexp.MustCompile(`^[A-Z0-9]{6,8}$`)

// ukchFormatPriority orders document formats by preference when a filing
// offers more than one: iXBRL carries the structured data the rest of the
// pipeline needs, XML is a fallback, PDF is scan-only and last resort.
var ukchFormatPriority = []string{"ixbrl", "xml", "pdf"}

// UKCHSearcher discovers accounts filings in UK Companies House.
//
// Company name search isn't supported: Companies House's public API has
// no name-to-number resolution endpoint, only a fuzzy search product that
// requires a separate subscription, so SearchByCompanyName returns an
// error rather than guessing at a match.
type UKCHSearcher struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewUKCHSearcher constructs a UKCHSearcher. apiKey is sent as the
// username of HTTP Basic auth with an empty password, per Companies
// House's API convention.
func NewUKCHSearcher(client *http.Client, apiKey, baseURL string) *UKCHSearcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &UKCHSearcher{client: client, apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *UKCHSearcher) SearchByIdentifier(ctx context.Context, identifier, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error) {
	var filingTypes []string
	if formType != "" && formType != "ALL" {
		for _, ft := range strings.Split(formType, ",") {
			filingTypes = append(filingTypes, strings.TrimSpace(ft))
		}
	}

	companyNumber, err := normalizeCompanyNumber(identifier)
	if err != nil {
		return nil, eris.Wrapf(err, "uk_ch: invalid company number %q", identifier)
	}

	var profile map[string]any
	if err := s.getJSON(ctx, "/company/"+companyNumber, &profile); err != nil {
		return nil, eris.Wrapf(err, "uk_ch: company %s not found", companyNumber)
	}

	var history map[string]any
	historyURL := "/company/" + companyNumber + "/filing-history?category=" + ukchCategoryAccounts + "&items_per_page=100"
	if err := s.getJSON(ctx, historyURL, &history); err != nil {
		return nil, eris.Wrapf(err, "uk_ch: filing history for %s", companyNumber)
	}

	items, _ := history["items"].([]any)
	if len(items) == 0 {
		return nil, nil
	}

	companyName, _ := profile["company_name"].(string)

	var results []model.Filing
	for _, raw := range items {
		if len(results) >= maxResults {
			break
		}
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		itemType, _ := item["type"].(string)
		if len(filingTypes) > 0 && !containsString(filingTypes, itemType) {
			continue
		}
		filingDate, _ := item["date"].(string)
		if !inDateRange(filingDate, startDate, endDate) {
			continue
		}

		downloadURL := s.resolveDownloadURL(ctx, item)
		if downloadURL == "" {
			continue
		}

		transactionID, _ := item["transaction_id"].(string)
		results = append(results, buildFiling(downloadURL, itemType, filingDate, companyName, companyNumber, transactionID, model.MarketUKCH))
	}

	return results, nil
}

func (s *UKCHSearcher) SearchByCompanyName(ctx context.Context, companyName, formType string, maxResults int, startDate, endDate string) ([]model.Filing, error) {
	return nil, eris.New("uk_ch: company name search is not supported; Companies House requires a company number")
}

// resolveDownloadURL fetches the filing's document metadata (if linked) and
// returns its content URL; that URL is the same whichever formats the
// metadata lists, so no particular format is selected. If no
// document is linked at all, it falls back to the filing's self link so
// the database's filing_url NOT NULL constraint is always satisfiable.
func (s *UKCHSearcher) resolveDownloadURL(ctx context.Context, item map[string]any) string {
	links, _ := item["links"].(map[string]any)
	if links == nil {
		return ""
	}

	if metadataURL, ok := links["document_metadata"].(string); ok && metadataURL != "" {
		var metadata map[string]any
		_ = s.getJSON(ctx, metadataURL, &metadata)
		if metadata != nil {
			if resources, ok := metadata["resources"].(map[string]any); ok {
				for _, format := range ukchFormatPriority {
					if _, ok := resources[format]; ok {
						return metadataURL + "/content"
					}
				}
			}
		}
		// Metadata unavailable or no recognized format: the content
		// endpoint still exists and serves whatever format CH has.
		return metadataURL + "/content"
	}

	if selfLink, ok := links["self"].(string); ok && selfLink != "" {
		return s.baseURL + selfLink
	}

	return ""
}

func (s *UKCHSearcher) getJSON(ctx context.Context, path string, out any) error {
	url := path
	if !strings.HasPrefix(path, "http") {
		url = s.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "uk_ch: build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(s.apiKey+":")))

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "uk_ch: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return eris.Errorf("uk_ch: %s not found", url)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return eris.New("uk_ch: API key rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("uk_ch: unexpected status %d from %s", resp.StatusCode, url)
	}

	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "uk_ch: decode JSON")
}

// normalizeCompanyNumber uppercases, strips separators, and validates a UK
// company number against Companies House's 6-8 character alphanumeric
// format.
func normalizeCompanyNumber(identifier string) (string, error) {
	if identifier == "" {
		return "", eris.New("empty company number")
	}
	normalized := strings.ToUpper(strings.TrimSpace(identifier))
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "-", "")

	if !ukchCompanyNumberPattern.MatchString(normalized) {
		return "", eris.Errorf("must be 6-8 alphanumeric characters, got %q", identifier)
	}
	return normalized, nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func inDateRange(date, start, end string) bool {
	if date == "" {
		return true
	}
	if start != "" && date < start {
		return false
	}
	if end != "" && date > end {
		return false
	}
	return true
}
