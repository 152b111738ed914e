package acquire

import (
	"context"
	"encoding/xml"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
)

// xsdImport and xsdSchema mirror just enough of the XML Schema and XBRL
// linkbase vocabularies to pull a schemaLocation/href attribute back out —
// the handler never validates the schema itself. linkbaseRef elements are
// read from their usual place under xs:annotation/xs:appinfo.
type xsdImport struct {
	SchemaLocation string `xml:"schemaLocation,attr"`
}

type xsdSchema struct {
	Imports      []xsdImport `xml:"import"`
	Includes     []xsdImport `xml:"include"`
	LinkbaseRefs []struct {
		Href string `xml:"href,attr"`
	} `xml:"annotation>appinfo>linkbaseRef"`
}

// XSDHandler downloads a single schema file and follows its <xs:import>,
// <xs:include>, and <link:linkbaseRef> declarations to pull in the whole
// taxonomy fragment the entry point depends on (spec §4.3). It is
// distribution-agnostic: it never hardcodes a market's taxonomy layout.
type XSDHandler struct {
	fetcher  fetcher.Fetcher
	maxDepth int
}

// NewXSDHandler constructs an XSDHandler that follows import chains up to
// maxDepth levels deep.
func NewXSDHandler(f fetcher.Fetcher, maxDepth int) *XSDHandler {
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &XSDHandler{fetcher: f, maxDepth: maxDepth}
}

// DownloadSchema downloads schemaURL and all its transitive dependencies
// into targetDir, returning the number of files written.
func (h *XSDHandler) DownloadSchema(ctx context.Context, schemaURL, targetDir string) (int, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	return h.downloadRecursive(ctx, schemaURL, targetDir, 0, seen)
}

func (h *XSDHandler) downloadRecursive(ctx context.Context, rawURL, targetDir string, depth int, seen map[string]bool) (int, error) {
	if depth > h.maxDepth {
		zap.L().Warn("acquire: xsd max import depth reached", zap.Int("depth", depth), zap.String("url", rawURL))
		return 0, nil
	}
	if seen[rawURL] {
		return 0, nil
	}
	seen[rawURL] = true

	body, err := h.fetcher.Download(ctx, rawURL)
	if err != nil {
		zap.L().Warn("acquire: xsd dependency download failed", zap.String("url", rawURL), zap.Error(err))
		return 0, nil
	}
	defer body.Close() //nolint:errcheck

	content, err := io.ReadAll(body)
	if err != nil {
		return 0, nil
	}

	filename := filenameFromURL(rawURL, "schema.xsd")
	localPath := filepath.Join(targetDir, filename)
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return 0, err
	}

	count := 1
	for _, dep := range extractXSDDependencies(content, rawURL) {
		n, err := h.downloadRecursive(ctx, dep, targetDir, depth+1, seen)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func extractXSDDependencies(content []byte, baseURL string) []string {
	var schema xsdSchema
	if err := xml.Unmarshal(content, &schema); err != nil {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var deps []string
	for _, imp := range schema.Imports {
		if imp.SchemaLocation != "" {
			deps = append(deps, resolveRef(base, imp.SchemaLocation))
		}
	}
	for _, inc := range schema.Includes {
		if inc.SchemaLocation != "" {
			deps = append(deps, resolveRef(base, inc.SchemaLocation))
		}
	}
	for _, lb := range schema.LinkbaseRefs {
		if lb.Href != "" {
			deps = append(deps, resolveRef(base, lb.Href))
		}
	}
	return deps
}

func resolveRef(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func filenameFromURL(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return strings.TrimPrefix(name, "/")
}
