package acquire

import (
	"path/filepath"
	"strings"

	"github.com/sells-group/filing-acquirer/internal/model"
)

// unsafePathChars are replaced with pathReplacementChar in company names
// before they're used as a directory segment; filesystem separators and
// drive-letter colons first.
var unsafePathChars = []string{"/", "\\", ":"}

const pathReplacementChar = "_"

// DownloadKind distinguishes the two record types PathResolver lays out,
// mirroring the original's attribute-sniffing `determine_type`.
type DownloadKind string

const (
	DownloadKindFiling   DownloadKind = "filing"
	DownloadKindTaxonomy DownloadKind = "taxonomy"
)

// PathResolver builds the on-disk directory a filing or taxonomy download
// belongs in, keeping path construction out of the coordinator (spec §6
// filesystem contract).
type PathResolver struct {
	EntitiesRoot   string
	TaxonomiesRoot string
}

// NewPathResolver constructs a PathResolver rooted at the given directories.
func NewPathResolver(entitiesRoot, taxonomiesRoot string) *PathResolver {
	return &PathResolver{EntitiesRoot: entitiesRoot, TaxonomiesRoot: taxonomiesRoot}
}

// BuildFilingPath returns the directory a filing's contents should land in:
// {entities_root}/{market}/{company}/filings/{form}/{accession}.
func (p *PathResolver) BuildFilingPath(f model.FilingSearch, companyName string) string {
	market := strings.ToLower(string(f.MarketType))
	safeCompany := normalizeCompanyName(companyName)
	return filepath.Join(p.EntitiesRoot, market, safeCompany, "filings", f.FormType, f.AccessionNumber)
}

// BuildTaxonomyPath returns the directory a taxonomy's files should land in:
// {taxonomies_root}/{name}/{version}.
func (p *PathResolver) BuildTaxonomyPath(lib model.TaxonomyLibrary) string {
	return filepath.Join(p.TaxonomiesRoot, lib.TaxonomyName, lib.TaxonomyVersion)
}

func normalizeCompanyName(name string) string {
	if name == "" {
		name = "unknown_company"
	}
	safe := name
	for _, unsafe := range unsafePathChars {
		safe = strings.ReplaceAll(safe, unsafe, pathReplacementChar)
	}
	safe = strings.ReplaceAll(safe, " ", pathReplacementChar)

	var b strings.Builder
	for _, r := range safe {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
