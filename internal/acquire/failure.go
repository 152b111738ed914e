package acquire

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// FailureHandler centralizes how a failed ProcessingResult gets turned into
// a database status update, so the coordinator doesn't repeat the same
// switch at every call site (spec §4.9).
type FailureHandler struct {
	repo db.Repository
}

// NewFailureHandler constructs a FailureHandler backed by repo.
func NewFailureHandler(repo db.Repository) *FailureHandler {
	return &FailureHandler{repo: repo}
}

// HandleFiling records a filing download's failure against its search row.
func (h *FailureHandler) HandleFiling(ctx context.Context, searchID string, result model.ProcessingResult) error {
	msg := fmt.Sprintf("failed at %s: %s", result.ErrorStage, extractErrorDetails(result))
	zap.L().Error("acquire: filing download failed", zap.String("search_id", searchID), zap.String("error", msg))
	return h.repo.FailFilingDownload(ctx, searchID, result.ErrorStage, msg)
}

// HandleTaxonomy records a taxonomy download's failure against its library
// row, along with the retry-monitor bookkeeping fields (spec §4.13).
func (h *FailureHandler) HandleTaxonomy(ctx context.Context, libraryID string, result model.ProcessingResult) error {
	msg := fmt.Sprintf("failed at %s: %s", result.ErrorStage, extractErrorDetails(result))
	zap.L().Error("acquire: taxonomy download failed", zap.String("library_id", libraryID), zap.String("error", msg))
	return h.repo.FailTaxonomyDownload(ctx, libraryID, string(result.ErrorStage), msg)
}

func extractErrorDetails(result model.ProcessingResult) string {
	switch result.ErrorStage {
	case model.StageDetection:
		if result.ErrorMessage != "" {
			return result.ErrorMessage
		}
		return "distribution detection failed"
	case model.StageDownload:
		if result.DownloadResult != nil && result.DownloadResult.ErrorMessage != "" {
			return result.DownloadResult.ErrorMessage
		}
		return "download failed"
	case model.StageExtraction:
		if result.ExtractionResult != nil && result.ExtractionResult.ErrorMessage != "" {
			return result.ExtractionResult.ErrorMessage
		}
		return "extraction failed"
	case model.StageValidation:
		return "validation failed - no files found"
	case model.StageVerification:
		return "file verification failed"
	case model.StageDatabase:
		return "database update failed"
	case model.StageUnexpected:
		return "unexpected error occurred"
	default:
		if result.ErrorMessage != "" {
			return result.ErrorMessage
		}
		return "unknown error"
	}
}
