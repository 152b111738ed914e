package taxonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/db"
	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// ManualDropFile describes one file sitting in the manual-downloads
// directory, waiting to be processed (spec's supplemented manual-drop
// feature).
type ManualDropFile struct {
	Filename string
	Path     string
	SizeMB   float64
	Modified time.Time
}

// ManualProcessor implements the library CLI's --manual flag (spec §6):
// a human places an archive in manual_downloads/, the processor extracts
// it to {taxonomies_root}/{name}-{version} (one of the directory names the
// availability check looks for, not the {name}/{version} layout the
// automatic pipeline writes), registers it in the database, and archives the original under a
// timestamped name in manual_processed/ so nothing a human handed it is
// ever silently lost.
type ManualProcessor struct {
	repo            db.Repository
	manualDownloads string
	manualProcessed string
	taxonomiesRoot  string
	safetyLimits    fetcher.ArchiveSafetyLimits
}

// NewManualProcessor constructs a ManualProcessor over the three
// directories the manual-drop workflow moves files between.
func NewManualProcessor(repo db.Repository, manualDownloads, manualProcessed, taxonomiesRoot string, limits fetcher.ArchiveSafetyLimits) *ManualProcessor {
	return &ManualProcessor{
		repo:            repo,
		manualDownloads: manualDownloads,
		manualProcessed: manualProcessed,
		taxonomiesRoot:  taxonomiesRoot,
		safetyLimits:    limits,
	}
}

// Scan lists every regular file currently sitting in manual_downloads/.
func (p *ManualProcessor) Scan() ([]ManualDropFile, error) {
	entries, err := os.ReadDir(p.manualDownloads)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "taxonomy: scan manual downloads")
	}

	var files []ManualDropFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, ManualDropFile{
			Filename: e.Name(),
			Path:     filepath.Join(p.manualDownloads, e.Name()),
			SizeMB:   float64(info.Size()) / (1024 * 1024),
			Modified: info.ModTime(),
		})
	}
	return files, nil
}

// ManualProcessResult is the outcome of processing one manually dropped
// archive.
type ManualProcessResult struct {
	TaxonomyName    string
	TaxonomyVersion string
	ExtractedTo     string
	FileCount       int
	ArchivedTo      string
	Created         bool
}

// ProcessFile extracts filename (which must already be sitting in
// manual_downloads/) into {taxonomies_root}/{taxonomyName}-{taxonomyVersion},
// registers it as completed, and moves
// the original archive into manual_processed/ stamped with the time of
// processing (spec's manual-drop feature: "never lost").
func (p *ManualProcessor) ProcessFile(ctx context.Context, filename, taxonomyName, taxonomyVersion, namespace string) (ManualProcessResult, error) {
	sourcePath := filepath.Join(p.manualDownloads, filename)
	if _, err := os.Stat(sourcePath); err != nil {
		return ManualProcessResult{}, eris.Wrapf(err, "taxonomy: manual file %q not found", filename)
	}

	kind := fetcher.DetectArchiveKind(filename)
	if kind == "" {
		return ManualProcessResult{}, eris.Errorf("taxonomy: %q is not a recognized archive format", filename)
	}

	if err := fetcher.PreScanArchive(sourcePath, kind, p.safetyLimits); err != nil {
		return ManualProcessResult{}, eris.Wrapf(err, "taxonomy: manual file %q failed safety pre-scan", filename)
	}

	targetDir := filepath.Join(p.taxonomiesRoot, fmt.Sprintf("%s-%s", taxonomyName, taxonomyVersion))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return ManualProcessResult{}, eris.Wrap(err, "taxonomy: create library directory")
	}

	extracted, err := fetcher.ExtractArchive(sourcePath, targetDir, kind, p.safetyLimits)
	if err != nil {
		return ManualProcessResult{}, eris.Wrapf(err, "taxonomy: extract manual file %q", filename)
	}

	lib := model.TaxonomyLibrary{
		TaxonomyName:      taxonomyName,
		TaxonomyVersion:   taxonomyVersion,
		TaxonomyNamespace: namespace,
		DownloadStatus:    model.StatusCompleted,
		LibraryDirectory:  targetDir,
		TotalFiles:        len(extracted),
	}
	created, _, err := p.repo.UpsertTaxonomyLibrary(ctx, lib, "")
	if err != nil {
		return ManualProcessResult{}, eris.Wrap(err, "taxonomy: register manual library")
	}

	processedName := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405Z"), filename)
	archivedPath := filepath.Join(p.manualProcessed, processedName)
	if err := os.MkdirAll(p.manualProcessed, 0o755); err != nil {
		return ManualProcessResult{}, eris.Wrap(err, "taxonomy: create manual_processed directory")
	}
	if err := os.Rename(sourcePath, archivedPath); err != nil {
		return ManualProcessResult{}, eris.Wrap(err, "taxonomy: archive processed manual file")
	}

	zap.L().Info("taxonomy: processed manual drop",
		zap.String("taxonomy", taxonomyName), zap.String("version", taxonomyVersion),
		zap.Int("files", len(extracted)), zap.String("archived_to", archivedPath))

	return ManualProcessResult{
		TaxonomyName:    taxonomyName,
		TaxonomyVersion: taxonomyVersion,
		ExtractedTo:     targetDir,
		FileCount:       len(extracted),
		ArchivedTo:      archivedPath,
		Created:         created,
	}, nil
}

// Instructions returns the formatted manual-download guidance the library
// CLI prints for --help and on persistent-failure alerts (mirrors the
// original's get_manual_instructions).
func (p *ManualProcessor) Instructions() string {
	var b strings.Builder
	b.WriteString("Manual taxonomy download instructions:\n")
	fmt.Fprintf(&b, "1. Download the taxonomy archive from its official source.\n")
	fmt.Fprintf(&b, "2. Place it in %s\n", p.manualDownloads)
	fmt.Fprintf(&b, "3. Run the library CLI with --process-manual <filename> --name <taxonomy> --version <version>\n")
	fmt.Fprintf(&b, "4. The archive is extracted under %s, registered, and moved to %s\n", p.taxonomiesRoot, p.manualProcessed)
	return b.String()
}
