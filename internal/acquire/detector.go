// Package acquire implements the distribution-agnostic filing download
// pipeline: detecting how a remote URL is distributed, extracting or
// mirroring it, validating the result, and driving the pipeline's state
// machine to completion (spec §4.1-§4.9).
package acquire

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// archive/schema/iXBRL extension sets the detector falls back to when the
// Content-Type header doesn't settle the question outright.
var (
	archiveExtensions = []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.xz", ".txz", ".tar"}
	schemaExtensions  = []string{".xsd"}
	ixbrlExtensions   = []string{".xhtml", ".html", ".htm"}
)

// xsdEntryPatterns are archive-URL-to-entry-point guesses tried when an
// archive URL 404s, mirroring the loose, un-hardcoded "try variations"
// strategy of the original detector.
var xsdEntryPatterns = []string{
	"%s.xsd",
	"%s/entry-point.xsd",
}

// Detector classifies a remote filing/taxonomy URL into one of the
// recognized distribution kinds without hardcoding any market's layout
// (spec §4.1, Design Notes).
type Detector struct {
	client *http.Client
	policy fetcher.MarketPolicy
	ftp    ftpExistenceChecker
}

// ftpExistenceChecker is satisfied by *fetcher.FTPFetcher; narrowed to the
// one method the FTP fallback probe needs, so tests can substitute a fake
// without dialing a real FTP server.
type ftpExistenceChecker interface {
	Exists(ctx context.Context, ftpURL string) (bool, error)
}

// NewDetector constructs a Detector. client is used for HEAD probes; a
// nil client falls back to http.DefaultClient.
func NewDetector(client *http.Client, policy fetcher.MarketPolicy) *Detector {
	if client == nil {
		client = http.DefaultClient
	}
	return &Detector{client: client, policy: policy}
}

// SetFTPFetcher enables the FTP fallback probe for SEC .gov archive URLs
// that 5xx over HTTPS (spec §4.1 edge policy). Left unset, Detect never
// attempts the fallback.
func (d *Detector) SetFTPFetcher(f ftpExistenceChecker) {
	d.ftp = f
}

// Detect classifies rawURL, trying the primary URL first and a small set
// of generated alternatives if the primary is not found.
func (d *Detector) Detect(ctx context.Context, rawURL string) model.DetectionResult {
	if isUKCHDocumentURL(rawURL) {
		// The Companies House Document API doesn't support HEAD on
		// individual documents; request iXBRL directly and treat it as a
		// single-file download with no extraction step (spec §4.1 step 1).
		zap.L().Info("acquire: UK Companies House document, skipping HEAD probe", zap.String("url", rawURL))
		return model.DetectionResult{
			Type:        model.DistIXBRL,
			URL:         rawURL,
			ContentType: "application/xhtml+xml",
			Exists:      true,
		}
	}

	result, status := d.checkURL(ctx, rawURL)
	if result.Exists {
		return result
	}

	alternatives := generateAlternatives(rawURL)
	for _, alt := range alternatives {
		altResult, _ := d.checkURL(ctx, alt)
		if altResult.Exists {
			altResult.Alternatives = alternatives
			return altResult
		}
	}

	if status >= 500 && d.ftp != nil {
		if ftpResult, ok := d.tryFTPFallback(ctx, rawURL); ok {
			ftpResult.Alternatives = alternatives
			return ftpResult
		}
	}

	result.Alternatives = alternatives
	return result
}

func (d *Detector) checkURL(ctx context.Context, rawURL string) (model.DetectionResult, int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return model.DetectionResult{Type: model.DistUnknown, URL: rawURL}, 0
	}
	d.policy.ApplyHeaders(req, rawURL)

	resp, err := d.client.Do(req)
	if err != nil {
		zap.L().Debug("acquire: detection probe failed", zap.String("url", rawURL), zap.Error(err))
		return model.DetectionResult{Type: model.DistUnknown, URL: rawURL}, 0
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return model.DetectionResult{Type: model.DistUnknown, URL: rawURL}, resp.StatusCode
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	return model.DetectionResult{
		Type:        classifyContentType(contentType, rawURL),
		URL:         rawURL,
		ContentType: contentType,
		Exists:      true,
	}, resp.StatusCode
}

// tryFTPFallback probes SEC's anonymous FTP mirror (ftp.sec.gov) for the
// same path an https .gov archive URL 5xx'd on (spec §4.1 edge policy).
func (d *Detector) tryFTPFallback(ctx context.Context, rawURL string) (model.DetectionResult, bool) {
	if !isGovArchiveURL(rawURL) {
		return model.DetectionResult{}, false
	}

	ftpURL, err := rewriteAsSECFTP(rawURL)
	if err != nil {
		return model.DetectionResult{}, false
	}

	exists, err := d.ftp.Exists(ctx, ftpURL)
	if err != nil || !exists {
		zap.L().Debug("acquire: ftp fallback probe missed", zap.String("url", ftpURL), zap.Error(err))
		return model.DetectionResult{}, false
	}

	zap.L().Info("acquire: https archive unavailable, found over ftp fallback",
		zap.String("https_url", rawURL), zap.String("ftp_url", ftpURL))
	return model.DetectionResult{
		Type:   model.DistFTPArchive,
		URL:    ftpURL,
		Exists: true,
	}, true
}

func isGovArchiveURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, ".gov/") && hasAnySuffix(lower, archiveExtensions)
}

// rewriteAsSECFTP rewrites an https://www.sec.gov/... archive URL to the
// equivalent ftp://ftp.sec.gov/... path on SEC's anonymous FTP mirror.
func rewriteAsSECFTP(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Scheme = "ftp"
	u.Host = "ftp.sec.gov"
	return u.String(), nil
}

func classifyContentType(contentType, rawURL string) model.DistributionKind {
	lowerURL := strings.ToLower(rawURL)

	switch {
	case strings.Contains(contentType, "zip") || strings.Contains(contentType, "gzip") || strings.Contains(contentType, "x-tar"):
		return model.DistArchive
	case strings.Contains(contentType, "xhtml+xml"):
		return model.DistIXBRL
	case hasAnySuffix(lowerURL, ixbrlExtensions):
		return model.DistIXBRL
	case strings.Contains(contentType, "xml") && strings.Contains(lowerURL, ".xsd"):
		return model.DistXSD
	case strings.Contains(contentType, "text/html") && strings.HasSuffix(lowerURL, "/"):
		return model.DistDirectory
	case hasAnySuffix(lowerURL, archiveExtensions):
		return model.DistArchive
	case hasAnySuffix(lowerURL, schemaExtensions):
		return model.DistXSD
	case strings.HasSuffix(lowerURL, "/"):
		return model.DistDirectory
	default:
		return model.DistUnknown
	}
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func generateAlternatives(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}

	lower := strings.ToLower(rawURL)
	var alternatives []string

	switch {
	case hasAnySuffix(lower, archiveExtensions):
		base := stripAnySuffix(rawURL, archiveExtensions)
		for _, pattern := range xsdEntryPatterns {
			alternatives = append(alternatives, sprintfPattern(pattern, base))
		}
		parent := parentDir(u)
		alternatives = append(alternatives, parent)

	case hasAnySuffix(lower, schemaExtensions):
		base := stripAnySuffix(rawURL, schemaExtensions)
		alternatives = append(alternatives, base+".zip")

	case strings.HasSuffix(rawURL, "/"):
		alternatives = append(alternatives, rawURL+"index.html", rawURL+"index.htm")
	}

	return alternatives
}

func stripAnySuffix(s string, suffixes []string) string {
	lower := strings.ToLower(s)
	for _, suf := range suffixes {
		if strings.HasSuffix(lower, suf) {
			return s[:len(s)-len(suf)]
		}
	}
	return s
}

func sprintfPattern(pattern, base string) string {
	return strings.Replace(pattern, "%s", base, 1)
}

func parentDir(u *url.URL) string {
	path := u.Path
	idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if idx < 0 {
		return u.Scheme + "://" + u.Host + "/"
	}
	parent := path[:idx+1]
	return u.Scheme + "://" + u.Host + parent
}

func isUKCHDocumentURL(rawURL string) bool {
	return strings.Contains(rawURL, "document-api.company-information.service.gov.uk") ||
		strings.Contains(rawURL, "api.companieshouse.gov.uk")
}
