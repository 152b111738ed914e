package model

import "time"

// TaxonomyLibrary is the set of schema+linkbase files backing a namespace.
// Unique on TaxonomyNamespace (I4) and on (TaxonomyName, TaxonomyVersion).
// Never created with TaxonomyName or TaxonomyVersion literally "unknown".
type TaxonomyLibrary struct {
	LibraryID           string
	TaxonomyName        string
	TaxonomyVersion     string
	TaxonomyNamespace   string
	SourceURL           string
	DownloadStatus      DownloadStatus
	LibraryDirectory    string // empty until completed
	TotalFiles          int
	DownloadCompletedAt *time.Time
	LastVerifiedAt      *time.Time
	RequiredByFilings   []string // search_id list, append-only (open question, spec §9)

	// Retry-monitor bookkeeping (spec §4.13).
	DownloadAttempts   int
	ExtractionAttempts int
	TotalAttempts      int
	FailureReason      string
	CurrentURL         string
	AlternativeURLs    []string
	AlternativesTried  []string
}

// IsUnknown reports whether the library's identity fields are the reserved
// "unknown" sentinel used for unresolved namespace recognition (spec §3, §4.10, §4.15).
func (t TaxonomyLibrary) IsUnknown() bool {
	return t.TaxonomyName == "unknown" || t.TaxonomyVersion == "unknown"
}
