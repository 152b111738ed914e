package taxonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// libraryDirNamingPatterns are the directory-name shapes tried, in order,
// when locating a taxonomy's on-disk directory (spec §4.11's disk
// predicate: "trying a short list of naming patterns").
var libraryDirNamingPatterns = []string{"%s-%s", "%s", "%s_%s"}

// AvailabilityChecker dual-verifies a required taxonomy library against
// both the database and disk (spec §4.11), the central invariant the rest
// of the pipeline's "is this taxonomy really here" questions reduce to.
type AvailabilityChecker struct {
	repo              db.Repository
	taxonomiesRoot    string
	minFilesThreshold int
}

// NewAvailabilityChecker constructs an AvailabilityChecker. minFilesThreshold
// is library.min_files_threshold (spec §6); a directory with that many
// files or fewer is treated as not really there (covers an interrupted
// extraction that left only a stray temp file behind).
func NewAvailabilityChecker(repo db.Repository, taxonomiesRoot string, minFilesThreshold int) *AvailabilityChecker {
	return &AvailabilityChecker{repo: repo, taxonomiesRoot: taxonomiesRoot, minFilesThreshold: minFilesThreshold}
}

// Availability is the dual-verification outcome for one (name, version).
type Availability struct {
	TaxonomyName    string
	TaxonomyVersion string
	InDatabase      bool
	OnDisk          bool
	Directory       string // resolved disk path, set whenever OnDisk is true
	DiskFileCount   int
	TrulyAvailable  bool
}

// Check runs the dual-verification reconciliation rules for one required
// library (spec §4.11):
//   - both true  -> truly_available
//   - db true, disk false -> missing; the DB row is marked inactive, since
//     whatever it claims to point at isn't there anymore
//   - db false, disk true -> register; a new completed row is written from
//     what's actually on disk
//   - both false -> missing; the caller enqueues a pending download
func (c *AvailabilityChecker) Check(ctx context.Context, taxonomyName, taxonomyVersion string) (Availability, error) {
	result := Availability{TaxonomyName: taxonomyName, TaxonomyVersion: taxonomyVersion}

	lib, inDB, err := c.repo.GetTaxonomyByNameVersion(ctx, taxonomyName, taxonomyVersion)
	if err != nil {
		return result, err
	}
	dbReady := inDB && lib.DownloadStatus == model.StatusCompleted && lib.TotalFiles > c.minFilesThreshold
	result.InDatabase = dbReady

	dir, fileCount, onDisk := c.findOnDisk(taxonomyName, taxonomyVersion)
	result.OnDisk = onDisk
	result.Directory = dir
	result.DiskFileCount = fileCount

	switch {
	case dbReady && onDisk:
		result.TrulyAvailable = true

	case dbReady && !onDisk:
		zap.L().Warn("taxonomy: database row has no matching files on disk, marking inactive",
			zap.String("taxonomy", taxonomyName), zap.String("version", taxonomyVersion))
		if err := c.repo.MarkTaxonomyInactive(ctx, lib.LibraryID); err != nil {
			return result, err
		}

	case !dbReady && onDisk:
		zap.L().Info("taxonomy: found on disk but not recorded, registering",
			zap.String("taxonomy", taxonomyName), zap.String("version", taxonomyVersion), zap.Int("files", fileCount))
		registered := model.TaxonomyLibrary{
			TaxonomyName:     taxonomyName,
			TaxonomyVersion:  taxonomyVersion,
			DownloadStatus:   model.StatusCompleted,
			LibraryDirectory: dir,
			TotalFiles:       fileCount,
		}
		if _, _, err := c.repo.UpsertTaxonomyLibrary(ctx, registered, ""); err != nil {
			return result, err
		}
		result.InDatabase = true
		result.TrulyAvailable = true
	}

	return result, nil
}

// findOnDisk tries each naming pattern under taxonomiesRoot and returns the
// first directory that exists and clears minFilesThreshold.
func (c *AvailabilityChecker) findOnDisk(taxonomyName, taxonomyVersion string) (dir string, fileCount int, ok bool) {
	for _, pattern := range libraryDirNamingPatterns {
		name := formatPattern(pattern, taxonomyName, taxonomyVersion)
		candidate := filepath.Join(c.taxonomiesRoot, name)
		count, err := countFiles(candidate)
		if err != nil {
			continue
		}
		if count > c.minFilesThreshold {
			return candidate, count, true
		}
	}
	return "", 0, false
}

func formatPattern(pattern, name, version string) string {
	switch strings.Count(pattern, "%s") {
	case 2:
		return fmt.Sprintf(pattern, name, version)
	case 1:
		return fmt.Sprintf(pattern, name)
	default:
		return pattern
	}
}

func countFiles(dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, os.ErrNotExist
	}

	count := 0
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
