// Package model holds the flat value records shared across the acquisition
// pipeline, taxonomy resolver, and market searchers: Entity, FilingSearch,
// DownloadedFiling, TaxonomyLibrary, and Market. These are plain structs
// returned by the DB Repository — no ORM session state, no dynamic
// attributes — so a record handed back by a read survives independently
// of however it was fetched.
package model

import "time"

// DownloadStatus enumerates the lifecycle a FilingSearch or TaxonomyLibrary
// row moves through (spec §4.7's state machine collapsed to the DB-visible
// states; "downloading"/"extracting"/"validating"/"verifying" are in-flight
// and never observed at rest).
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
)

// MarketType identifies one of the enabled regulatory markets.
type MarketType string

const (
	MarketSEC   MarketType = "sec"
	MarketUKCH  MarketType = "uk_ch"
	MarketESEF  MarketType = "esef"
)

// Market is a seeded row describing one regulatory source (spec §6).
type Market struct {
	MarketID           MarketType
	Name               string
	Country            string
	APIBaseURL         string
	RateLimitPerMinute int
	UserAgentRequired  bool
}

// Entity is a company or filer known to one market. Unique on
// (MarketType, MarketEntityID). Created on first search mentioning it;
// never deleted by the core.
type Entity struct {
	EntityID       string
	MarketType     MarketType
	MarketEntityID string
	CompanyName    string
	Status         string
	CreatedAt      time.Time
}
