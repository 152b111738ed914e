package taxonomy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-acquirer/internal/model"
)

func TestClassifyRetry_URLLevelBelowCeiling_RetriesSameURL(t *testing.T) {
	lib := model.TaxonomyLibrary{FailureReason: "url_404", DownloadAttempts: 1}
	assert.Equal(t, RetrySameURL, ClassifyRetry(lib, 5))
}

func TestClassifyRetry_URLLevelAtCeiling_TriesAlternative(t *testing.T) {
	lib := model.TaxonomyLibrary{FailureReason: "url_404", DownloadAttempts: 5}
	assert.Equal(t, RetryAlternativeURL, ClassifyRetry(lib, 5))
}

func TestClassifyRetry_ExtractionBelowLadder_RetriesSameURL(t *testing.T) {
	lib := model.TaxonomyLibrary{FailureReason: "corrupted_zip", ExtractionAttempts: 1}
	assert.Equal(t, RetrySameURL, ClassifyRetry(lib, 5))
}

func TestClassifyRetry_ExtractionAtLadder_TriesAlternative(t *testing.T) {
	lib := model.TaxonomyLibrary{FailureReason: "corrupted_zip", ExtractionAttempts: 2}
	assert.Equal(t, RetryAlternativeURL, ClassifyRetry(lib, 5))
}

func TestClassifyRetry_SystemReason_RequiresManualIntervention(t *testing.T) {
	lib := model.TaxonomyLibrary{FailureReason: "disk_full"}
	assert.Equal(t, RetryManualIntervention, ClassifyRetry(lib, 5))
}

func TestRetryMonitor_Run_RetriesSameURL(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(model.TaxonomyLibrary{
		TaxonomyName: "us-gaap", TaxonomyVersion: "2023",
		DownloadStatus: model.StatusFailed, FailureReason: "timeout",
		DownloadAttempts: 1, TotalAttempts: 1,
	})

	monitor := NewRetryMonitor(repo, 5, 5)
	actions, manual, err := monitor.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, RetrySameURL, actions[0].Strategy)
	assert.Empty(t, manual)
	assert.Equal(t, model.StatusPending, repo.taxonomies[id].DownloadStatus)
}

func TestRetryMonitor_Run_EscalatesToAlternativeURL(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(model.TaxonomyLibrary{
		TaxonomyName: "us-gaap", TaxonomyVersion: "2023",
		TaxonomyNamespace: "http://fasb.org/us-gaap/2023",
		DownloadStatus:    model.StatusFailed, FailureReason: "url_404",
		DownloadAttempts: 5, TotalAttempts: 5,
		CurrentURL: "https://fasb.org/taxonomies/us-gaap/2023/us-gaap-2023.zip",
	})

	monitor := NewRetryMonitor(repo, 10, 5)
	actions, manual, err := monitor.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, RetryAlternativeURL, actions[0].Strategy)
	assert.NotEmpty(t, actions[0].NewURL)
	assert.Empty(t, manual)
	assert.Equal(t, actions[0].NewURL, repo.taxonomies[id].CurrentURL)
	assert.Contains(t, repo.taxonomies[id].AlternativesTried, "https://fasb.org/taxonomies/us-gaap/2023/us-gaap-2023.zip")
}

func TestRetryMonitor_Run_SystemFailureRequiresManualIntervention(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(model.TaxonomyLibrary{
		TaxonomyName: "dei", TaxonomyVersion: "2023",
		DownloadStatus: model.StatusFailed, FailureReason: "disk_full",
		TotalAttempts: 1,
	})

	monitor := NewRetryMonitor(repo, 10, 5)
	actions, manual, err := monitor.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.True(t, actions[0].ManualRequired)
	require.Len(t, manual, 1)
	assert.Contains(t, manual[0], "MANUAL INTERVENTION REQUIRED")
}

func TestRetryMonitor_Run_AtAttemptCeiling_ReportsPersistentFailure(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(model.TaxonomyLibrary{
		TaxonomyName: "us-gaap", TaxonomyVersion: "2022",
		DownloadStatus: model.StatusFailed, FailureReason: "timeout",
		TotalAttempts: 10,
	})

	monitor := NewRetryMonitor(repo, 10, 5)
	actions, manual, err := monitor.Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, actions)
	require.Len(t, manual, 1)
	assert.Contains(t, manual[0], "PERSISTENT DOWNLOAD FAILURE")

	require.Len(t, repo.dlq, 1)
	assert.Equal(t, id, repo.dlq[0].LibraryID)
	assert.Equal(t, "us-gaap", repo.dlq[0].TaxonomyName)
	assert.Equal(t, "transient", repo.dlq[0].ErrorType)
}
