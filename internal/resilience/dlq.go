package resilience

import (
	"time"
)

// DLQEntry represents a taxonomy library download that exhausted every
// retry strategy in the retry ladder (spec §4.13's persistent-failure
// branch) and is now parked for a human to resolve via manual download.
type DLQEntry struct {
	ID              string    `json:"id"`
	LibraryID       string    `json:"library_id"`
	TaxonomyName    string    `json:"taxonomy_name"`
	TaxonomyVersion string    `json:"taxonomy_version"`
	FailureReason   string    `json:"failure_reason"`
	ErrorType       string    `json:"error_type"` // "transient" or "permanent"
	TotalAttempts   int       `json:"total_attempts"`
	URLsTried       []string  `json:"urls_tried"`
	CreatedAt       time.Time `json:"created_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
