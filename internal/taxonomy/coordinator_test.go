package taxonomy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_ProcessFiling_QueuesMissingAndSkipsAvailable(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, "us-gaap-2023"), "a.xsd", "b.xsd", "c.xsd")

	repo := newFakeRepo()
	checker := NewAvailabilityChecker(repo, root, 1)
	coord := NewCoordinator(repo, checker, time.Minute)

	namespaces := []string{
		"http://fasb.org/us-gaap/2023",    // present on disk, not in db -> registered, not queued
		"http://xbrl.sec.gov/dei/2023",    // missing entirely -> queued
		"http://acme-corp.com/20231231",   // company extension -> dropped before reaching availability
	}

	result, err := coord.ProcessFiling(context.Background(), "filing-1", "search-1", namespaces)

	require.NoError(t, err)
	assert.Len(t, result.Required, 2) // company extension dropped
	assert.Len(t, result.Available, 2)
	require.Len(t, result.Queued, 1)
	assert.Equal(t, "dei", result.Queued[0].TaxonomyName)
}

func TestCoordinator_ProcessFiling_CachesWithinTTL(t *testing.T) {
	root := t.TempDir()
	repo := newFakeRepo()
	checker := NewAvailabilityChecker(repo, root, 1)
	coord := NewCoordinator(repo, checker, time.Hour)

	namespaces := []string{"http://fasb.org/us-gaap/2023"}

	first, err := coord.ProcessFiling(context.Background(), "filing-1", "search-1", namespaces)
	require.NoError(t, err)
	require.Len(t, first.Queued, 1)

	// Second call for the same filing must return the cached result without
	// re-enqueueing (a repeat queue write would show up as a second distinct
	// library row under a naive repo, but our fakeRepo upserts idempotently
	// anyway — the real assertion is that it doesn't error or recompute).
	second, err := coord.ProcessFiling(context.Background(), "filing-1", "search-1", namespaces)
	require.NoError(t, err)
	assert.Equal(t, first.CachedAt, second.CachedAt)
}

func TestCoordinator_ProcessFiling_UnknownNamespacesNotQueued(t *testing.T) {
	root := t.TempDir()
	repo := newFakeRepo()
	checker := NewAvailabilityChecker(repo, root, 1)
	coord := NewCoordinator(repo, checker, 0)

	result, err := coord.ProcessFiling(context.Background(), "filing-2", "search-2", []string{"garbage-not-a-namespace"})

	require.NoError(t, err)
	assert.Empty(t, result.Required)
	assert.Empty(t, result.Queued)
}
