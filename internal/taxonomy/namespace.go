// Package taxonomy resolves the namespace URIs declared in a filing's
// XBRL descriptor into the taxonomy libraries that must be on disk before
// the filing can be considered usable, dual-verifies what's already
// available against the database and the filesystem, and drives the
// download/retry lifecycle for whatever's missing (spec §4.10–§4.13).
package taxonomy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/filing-acquirer/internal/model"
)

// reservedTaxonomyNames are path segments that look like a taxonomy name
// but are actually structural (a versioned "core" bundle, or a namespace
// that happens to put something else first in its path).
var reservedTaxonomyNames = map[string]bool{
	"schema": true,
	"xbrl":   true,
	"xsd":    true,
	"www":    true,
}

// includedTaxonomies are bundled inside a filer's primary taxonomy (us-gaap
// or dei carry the country/currency/exchange codelists with them) and so
// are recognized but never separately downloaded.
var includedTaxonomies = map[string]bool{
	"country":  true,
	"currency": true,
	"exch":     true,
	"sic":      true,
	"stpr":     true,
}

// companyExtensionPattern matches authorities namespace URIs use for filer-
// specific extension taxonomies rather than a standards body's taxonomy.
// Matched against the namespace's own host, not a fixed vendor list, since
// any filer can mint one of these (spec §4.10 step 1).
var companyExtensionPattern = regexp.MustCompile(`(?i)^(www\.)?[a-z0-9-]+\.(com|net|co)$`)

// authorityTransforms rewrites a namespace's declared authority to the
// host that actually serves the taxonomy archive, for authorities known to
// have moved or mirror their schemas elsewhere.
var authorityTransforms = map[string]string{
	"xbrl.sec.gov":    "www.sec.gov",
	"xbrl.ifrs.org":   "www.ifrs.org",
	"xbrl.frc.org.uk": "www.frc.org.uk",
}

// urlPatternPrimary is the primary download-URL template, filled with the
// (possibly transformed) authority, taxonomy name, and version.
const urlPatternPrimary = "https://{authority}/taxonomies/{taxonomy}/{version}/{taxonomy}-{version}.zip"

// alternativeURLTemplates are tried, in order, against every authority
// variant when the primary template's URL turns out not to resolve
// (spec §4.13's try_alternative_url strategy).
var alternativeURLTemplates = []string{
	"https://{authority}/{taxonomy}/{version}/{taxonomy}-{version}.zip",
	"https://{authority}/xbrl/{taxonomy}/{version}.zip",
	"https://{authority}/taxonomies/{taxonomy}-{version}.zip",
}

var versionPattern = regexp.MustCompile(`^(19|20)\d{2}(-\d{2}-\d{2})?(Q[1-4])?$`)

// ResolvedNamespace is one namespace's resolution outcome (spec §4.10).
type ResolvedNamespace struct {
	Namespace          string
	TaxonomyName       string
	TaxonomyVersion    string
	Authority          string
	DownloadURL        string
	MarketType         model.MarketType
	IsCompanyExtension bool
	IsIncludedTaxonomy bool
	Recognized         bool
	Source             string // "direct" | "fallback" | "included" | "skipped" | "unknown"
}

// IsUnknown reports whether the namespace resolved to the "unknown"
// sentinel (spec §4.10 step 5: discard unknown entries before persisting).
func (r ResolvedNamespace) IsUnknown() bool {
	return !r.Recognized || r.TaxonomyName == "unknown" || r.TaxonomyVersion == "unknown"
}

// ResolveNamespace resolves one namespace URI to its taxonomy identity and
// download URL, following spec §4.10's step order: company extension,
// direct construction, included-taxonomy check, pattern-based fallback.
func ResolveNamespace(namespace string) ResolvedNamespace {
	parsed, err := url.Parse(namespace)
	if err == nil && parsed.Host != "" {
		if companyExtensionPattern.MatchString(parsed.Host) {
			return ResolvedNamespace{Namespace: namespace, TaxonomyName: "company-extension", TaxonomyVersion: "unknown", Source: "skipped", IsCompanyExtension: true}
		}

		if direct, ok := constructDirectly(namespace, parsed); ok {
			if includedTaxonomies[direct.TaxonomyName] {
				direct.IsIncludedTaxonomy = true
				direct.DownloadURL = ""
				direct.Source = "included"
				return direct
			}
			return direct
		}
	}

	// Falls through here for namespaces url.Parse can't resolve a host for
	// (no scheme, e.g. "xbrl.frc.org.uk/uk-gaap/2022") as well as ones that
	// parsed fine but didn't match the direct-construction shape.
	if fallback, ok := recognizeByPattern(namespace); ok {
		return fallback
	}

	return unknownNamespace(namespace)
}

// ResolveNamespaces resolves a set of namespaces and returns only the
// distinct, downloadable taxonomies among them: company extensions,
// included taxonomies, and unrecognized namespaces are all dropped
// (spec §4.10 step 5, §4.12 step 3).
func ResolveNamespaces(namespaces []string) []ResolvedNamespace {
	seen := map[string]bool{}
	var out []ResolvedNamespace
	for _, ns := range namespaces {
		r := ResolveNamespace(ns)
		if r.IsCompanyExtension || r.IsIncludedTaxonomy || r.IsUnknown() {
			continue
		}
		key := r.TaxonomyName + "/" + r.TaxonomyVersion
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func constructDirectly(namespace string, parsed *url.URL) (ResolvedNamespace, bool) {
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ResolvedNamespace{}, false
	}

	taxonomyName := strings.ToLower(segments[0])
	if reservedTaxonomyNames[taxonomyName] {
		return ResolvedNamespace{}, false
	}

	version := "unknown"
	if len(segments) >= 2 {
		version = segments[1]
	}
	if !versionPattern.MatchString(version) {
		return ResolvedNamespace{}, false
	}

	authority := parsed.Host
	downloadAuthority := authority
	if transformed, ok := authorityTransforms[authority]; ok {
		downloadAuthority = transformed
	}

	return ResolvedNamespace{
		Namespace:       namespace,
		TaxonomyName:    taxonomyName,
		TaxonomyVersion: version,
		Authority:       authority,
		DownloadURL:     renderTemplate(urlPatternPrimary, downloadAuthority, taxonomyName, version),
		MarketType:      inferMarketType(authority),
		Recognized:      true,
		Source:          "direct",
	}, true
}

// authorityHintPattern extracts the bare host from a namespace that
// doesn't parse as a structured URL but still looks like one, for the
// pattern-based fallback recognizer.
var authorityHintPattern = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|xbrl\.)?([a-z0-9.-]+\.[a-z]{2,})`)

func recognizeByPattern(namespace string) (ResolvedNamespace, bool) {
	match := authorityHintPattern.FindStringSubmatch(namespace)
	if match == nil {
		return ResolvedNamespace{}, false
	}
	authority := match[1]

	rest := strings.TrimPrefix(namespace, match[0])
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ResolvedNamespace{}, false
	}

	taxonomyName := strings.ToLower(strings.Trim(segments[0], "/"))
	version := "unknown"
	if len(segments) >= 2 && versionPattern.MatchString(segments[1]) {
		version = segments[1]
	}
	if version == "unknown" {
		return ResolvedNamespace{}, false
	}

	return ResolvedNamespace{
		Namespace:       namespace,
		TaxonomyName:    taxonomyName,
		TaxonomyVersion: version,
		Authority:       authority,
		DownloadURL:     renderTemplate(urlPatternPrimary, authority, taxonomyName, version),
		MarketType:      inferMarketType(authority),
		Recognized:      true,
		Source:          "fallback",
	}, true
}

// AlternativeURLs generates the next candidates to try for a namespace
// whose primary download URL failed (spec §4.13's try_alternative_url),
// deduplicated and with the already-tried URLs removed.
func AlternativeURLs(r ResolvedNamespace, alreadyTried []string) []string {
	tried := make(map[string]bool, len(alreadyTried)+1)
	tried[r.DownloadURL] = true
	for _, u := range alreadyTried {
		tried[u] = true
	}

	authorities := []string{r.Authority}
	if transformed, ok := authorityTransforms[r.Authority]; ok && transformed != r.Authority {
		authorities = append(authorities, transformed)
	}

	var out []string
	for _, tmpl := range alternativeURLTemplates {
		for _, authority := range authorities {
			candidate := renderTemplate(tmpl, authority, r.TaxonomyName, r.TaxonomyVersion)
			if candidate == "" || tried[candidate] {
				continue
			}
			tried[candidate] = true
			out = append(out, candidate)
		}
	}
	return out
}

func renderTemplate(template, authority, taxonomy, version string) string {
	replacer := strings.NewReplacer("{authority}", authority, "{taxonomy}", taxonomy, "{version}", version)
	return replacer.Replace(template)
}

// inferMarketType guesses which regulator's ecosystem a taxonomy authority
// belongs to, best-effort, purely for informational tagging — nothing in
// the coordinator branches on it.
func inferMarketType(authority string) model.MarketType {
	lower := strings.ToLower(authority)
	switch {
	case strings.Contains(lower, "sec.gov"), strings.Contains(lower, "fasb.org"):
		return model.MarketSEC
	case strings.Contains(lower, "frc.org.uk"), strings.Contains(lower, "companieshouse"):
		return model.MarketUKCH
	case strings.Contains(lower, "esma.europa.eu"), strings.Contains(lower, "efrag.org"), strings.Contains(lower, "ifrs.org"):
		return model.MarketESEF
	default:
		return ""
	}
}

func unknownNamespace(namespace string) ResolvedNamespace {
	return ResolvedNamespace{Namespace: namespace, TaxonomyName: "unknown", TaxonomyVersion: "unknown", Source: "unknown", Recognized: false}
}
