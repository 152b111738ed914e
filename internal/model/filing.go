package model

import "time"

// FilingSearch is one candidate filing discovered by a market searcher.
// Exactly one row exists per (EntityID, AccessionNumber) pair (invariant I3).
// FilingURL is never empty; it is what the orchestrator populated the row
// with at creation.
type FilingSearch struct {
	SearchID         string
	EntityID         string
	MarketType       MarketType
	FormType         string
	FilingDate       string // YYYY-MM-DD
	FilingURL        string
	AccessionNumber  string
	SearchMetadata   map[string]string
	DownloadStatus   DownloadStatus
	ExtractionStatus DownloadStatus
	ErrorStage       string
	ErrorMessage     string
	AttemptCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DownloadedFiling is created only after the on-disk directory has been
// verified non-empty (spec §3, §4.7 db-commit transition). If
// DownloadDirectory ceases to exist, callers must treat the row as invalid.
type DownloadedFiling struct {
	FilingID            string
	SearchID            string
	EntityID            string
	DownloadDirectory   string
	InstanceFilePath    string // empty if not discovered
	DownloadCompletedAt time.Time
}
