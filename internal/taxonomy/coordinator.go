package taxonomy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// CoordinatorResult is one filing's taxonomy-resolution outcome: what it
// needs, what's already available, and what got queued.
type CoordinatorResult struct {
	FilingID  string
	Required  []ResolvedNamespace
	Available []Availability
	Queued    []model.TaxonomyLibrary
	CachedAt  time.Time
}

// resultCacheEntry pairs a cached CoordinatorResult with the time it was
// stored, so Get can apply the TTL without a background eviction goroutine
// (spec's supplemented result-cache feature, §4.12 step 1).
type resultCacheEntry struct {
	result CoordinatorResult
	at     time.Time
}

// Coordinator runs the per-filing taxonomy resolution workflow (spec
// §4.12): cache lookup, namespace resolution, dual verification, and
// persisting pending rows for whatever's still missing.
type Coordinator struct {
	repo     db.Repository
	checker  *AvailabilityChecker
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]resultCacheEntry
}

// NewCoordinator constructs a Coordinator. cacheTTL is library.cache_ttl_secs
// (spec §6); zero disables caching.
func NewCoordinator(repo db.Repository, checker *AvailabilityChecker, cacheTTL time.Duration) *Coordinator {
	return &Coordinator{
		repo:     repo,
		checker:  checker,
		cacheTTL: cacheTTL,
		cache:    make(map[string]resultCacheEntry),
	}
}

// ProcessFiling resolves filingID's required taxonomies, dual-verifies
// each, and writes a pending TaxonomyLibrary row for every one still
// missing (spec §4.12 steps 1-6). namespaces is the filing's parsed
// descriptor's set of declared namespace URIs (spec §6).
func (c *Coordinator) ProcessFiling(ctx context.Context, filingID, searchID string, namespaces []string) (CoordinatorResult, error) {
	if cached, ok := c.getCached(filingID); ok {
		return cached, nil
	}

	required := ResolveNamespaces(namespaces)

	result := CoordinatorResult{FilingID: filingID, Required: required}

	for _, req := range required {
		avail, err := c.checker.Check(ctx, req.TaxonomyName, req.TaxonomyVersion)
		if err != nil {
			return result, err
		}
		result.Available = append(result.Available, avail)

		if avail.TrulyAvailable {
			continue
		}

		created, err := c.enqueueMissing(ctx, req, searchID)
		if err != nil {
			return result, err
		}
		if created != nil {
			result.Queued = append(result.Queued, *created)
		}
	}

	result.CachedAt = c.setCached(filingID, result)
	return result, nil
}

// enqueueMissing writes a pending TaxonomyLibrary row for a namespace that
// dual-verification found missing, reusing an existing row for the same
// (name, version) if the namespace resolver has already seen this
// taxonomy for a different filing (spec §4.12 step 5).
func (c *Coordinator) enqueueMissing(ctx context.Context, req ResolvedNamespace, searchID string) (*model.TaxonomyLibrary, error) {
	if req.IsUnknown() {
		return nil, nil
	}

	lib := model.TaxonomyLibrary{
		TaxonomyName:      req.TaxonomyName,
		TaxonomyVersion:   req.TaxonomyVersion,
		TaxonomyNamespace: req.Namespace,
		SourceURL:         req.DownloadURL,
		CurrentURL:        req.DownloadURL,
		DownloadStatus:    model.StatusPending,
	}

	created, _, err := c.repo.UpsertTaxonomyLibrary(ctx, lib, searchID)
	if err != nil {
		return nil, err
	}
	if created {
		zap.L().Info("taxonomy: queued missing library",
			zap.String("taxonomy", req.TaxonomyName), zap.String("version", req.TaxonomyVersion))
	}
	return &lib, nil
}

func (c *Coordinator) getCached(filingID string) (CoordinatorResult, bool) {
	if c.cacheTTL <= 0 {
		return CoordinatorResult{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[filingID]
	if !ok {
		return CoordinatorResult{}, false
	}
	if time.Since(entry.at) > c.cacheTTL {
		delete(c.cache, filingID)
		return CoordinatorResult{}, false
	}
	return entry.result, true
}

func (c *Coordinator) setCached(filingID string, result CoordinatorResult) time.Time {
	if c.cacheTTL <= 0 {
		return time.Time{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.cache[filingID] = resultCacheEntry{result: result, at: now}
	return now
}
