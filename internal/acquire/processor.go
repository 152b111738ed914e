package acquire

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/model"
)

// DistributionProcessor routes a single download to the handler matching
// its detected distribution kind — archive, iXBRL, XSD, or directory —
// with no hardcoded assumption about which markets use which kind
// (spec §4.5).
type DistributionProcessor struct {
	detector    *Detector
	fetcher     fetcher.Fetcher
	xsd         *XSDHandler
	directory   *DirectoryHandler
	tempDir     string
	safetyLimits fetcher.ArchiveSafetyLimits
	ftp         ftpArchiveFetcher
}

// ftpArchiveFetcher is satisfied by *fetcher.FTPFetcher; narrowed so tests
// can substitute a fake rather than dialing a real FTP server.
type ftpArchiveFetcher interface {
	DownloadToFile(ctx context.Context, ftpURL, path string) (int64, error)
}

// NewDistributionProcessor wires a DistributionProcessor from its collaborators.
func NewDistributionProcessor(detector *Detector, f fetcher.Fetcher, xsd *XSDHandler, dir *DirectoryHandler, tempDir string, limits fetcher.ArchiveSafetyLimits) *DistributionProcessor {
	return &DistributionProcessor{
		detector:     detector,
		fetcher:      f,
		xsd:          xsd,
		directory:    dir,
		tempDir:      tempDir,
		safetyLimits: limits,
	}
}

// SetFTPFetcher enables handling of model.DistFTPArchive results produced
// by the Detector's FTP fallback (spec §4.1 edge policy). Left unset, such
// results fail with StageDownload.
func (p *DistributionProcessor) SetFTPFetcher(f ftpArchiveFetcher) {
	p.ftp = f
}

// DownloadAndExtract detects rawURL's distribution kind and dispatches to
// the matching handler, writing the result into targetDir.
func (p *DistributionProcessor) DownloadAndExtract(ctx context.Context, rawURL, targetDir string) model.ProcessingResult {
	detection := p.detector.Detect(ctx, rawURL)
	if !detection.Exists {
		return model.ProcessingResult{
			Success:      false,
			ErrorStage:   model.StageDetection,
			ErrorMessage: fmt.Sprintf("URL not accessible: %s", rawURL),
		}
	}

	switch detection.Type {
	case model.DistArchive:
		return p.handleArchive(ctx, detection.URL, targetDir)
	case model.DistFTPArchive:
		return p.handleFTPArchive(ctx, detection.URL, targetDir)
	case model.DistIXBRL:
		return p.handleIXBRL(ctx, detection.URL, targetDir)
	case model.DistXSD:
		return p.handleXSD(ctx, detection.URL, targetDir)
	case model.DistDirectory:
		return p.handleDirectory(ctx, detection.URL, targetDir)
	default:
		zap.L().Warn("acquire: unknown distribution type, falling back to single-file download", zap.String("url", detection.URL))
		return p.handleIXBRL(ctx, detection.URL, targetDir)
	}
}

func (p *DistributionProcessor) handleIXBRL(ctx context.Context, rawURL, targetDir string) model.ProcessingResult {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return model.ProcessingResult{Success: false, ErrorStage: model.StageIXBRLDownload, ErrorMessage: err.Error()}
	}

	if isUKCHDocumentURL(rawURL) {
		return p.handleIXBRLNegotiated(ctx, rawURL, targetDir)
	}

	filename := filenameFromURL(rawURL, "document.xhtml")
	destPath := filepath.Join(targetDir, filename)

	bytesWritten, _, err := p.fetcher.DownloadToFile(ctx, rawURL, destPath, false)
	if err != nil {
		return model.ProcessingResult{
			Success:        false,
			ErrorStage:     model.StageIXBRLDownload,
			DownloadResult: &model.DownloadResult{Success: false, ErrorMessage: err.Error()},
		}
	}

	return model.ProcessingResult{
		Success:        true,
		DownloadResult: &model.DownloadResult{Success: true, BytesWritten: bytesWritten},
		ExtractionResult: &model.ExtractionResult{
			Success:        true,
			FilesExtracted: 1,
		},
	}
}

// handleIXBRLNegotiated implements the Companies House accept-format ladder
// (spec §4.1 edge policy, §4.3 step 5): the request is retried
// xhtml+xml -> html -> pdf on a 406, and the saved filename is derived from
// whichever format the server actually returned (spec §4.3 step 4).
func (p *DistributionProcessor) handleIXBRLNegotiated(ctx context.Context, rawURL, targetDir string) model.ProcessingResult {
	body, contentType, err := p.fetcher.DownloadNegotiated(ctx, rawURL, fetcher.AcceptLadder)
	if err != nil {
		return model.ProcessingResult{
			Success:        false,
			ErrorStage:     model.StageIXBRLDownload,
			DownloadResult: &model.DownloadResult{Success: false, ErrorMessage: err.Error()},
		}
	}
	defer body.Close() //nolint:errcheck

	filename := filenameForContentType(rawURL, contentType)
	destPath := filepath.Join(targetDir, filename)

	file, err := os.Create(destPath)
	if err != nil {
		return model.ProcessingResult{Success: false, ErrorStage: model.StageIXBRLDownload, ErrorMessage: err.Error()}
	}
	defer file.Close() //nolint:errcheck

	bytesWritten, err := io.Copy(file, body)
	if err != nil {
		return model.ProcessingResult{
			Success:        false,
			ErrorStage:     model.StageIXBRLDownload,
			DownloadResult: &model.DownloadResult{Success: false, ErrorMessage: err.Error()},
		}
	}

	return model.ProcessingResult{
		Success:        true,
		DownloadResult: &model.DownloadResult{Success: true, BytesWritten: bytesWritten},
		ExtractionResult: &model.ExtractionResult{
			Success:        true,
			FilesExtracted: 1,
		},
	}
}

// filenameForContentType names a negotiated Companies House document by
// whichever format was actually returned, falling back to the URL's last
// path component and then to a generic default (spec §4.3 step 4).
func filenameForContentType(rawURL, contentType string) string {
	switch {
	case strings.Contains(contentType, "xhtml"):
		return "accounts.xhtml"
	case strings.Contains(contentType, "text/html"):
		return "accounts.html"
	case strings.Contains(contentType, "pdf"):
		return "accounts.pdf"
	}
	if name := filenameFromURL(rawURL, ""); name != "" && strings.Contains(name, ".") {
		return name
	}
	return "schema.xsd"
}

func (p *DistributionProcessor) handleArchive(ctx context.Context, rawURL, targetDir string) model.ProcessingResult {
	tmp, err := os.CreateTemp(p.tempDir, "acquire-archive-*")
	if err != nil {
		return model.ProcessingResult{Success: false, ErrorStage: model.StageDownload, ErrorMessage: err.Error()}
	}
	tmpPath := tmp.Name()
	tmp.Close() //nolint:errcheck
	defer os.Remove(tmpPath) //nolint:errcheck

	bytesWritten, _, err := p.fetcher.DownloadToFile(ctx, rawURL, tmpPath, false)
	if err != nil {
		return model.ProcessingResult{
			Success:        false,
			ErrorStage:     model.StageDownload,
			DownloadResult: &model.DownloadResult{Success: false, ErrorMessage: err.Error()},
		}
	}

	return p.extractArchiveFile(tmpPath, rawURL, targetDir, &model.DownloadResult{Success: true, BytesWritten: bytesWritten})
}

// handleFTPArchive downloads an archive the Detector located via its SEC
// FTP fallback (model.DistFTPArchive) and extracts it the same way an
// HTTPS archive would be (spec §4.1 edge policy).
func (p *DistributionProcessor) handleFTPArchive(ctx context.Context, ftpURL, targetDir string) model.ProcessingResult {
	if p.ftp == nil {
		return model.ProcessingResult{
			Success:      false,
			ErrorStage:   model.StageDownload,
			ErrorMessage: "ftp fallback not configured",
		}
	}

	tmp, err := os.CreateTemp(p.tempDir, "acquire-archive-ftp-*")
	if err != nil {
		return model.ProcessingResult{Success: false, ErrorStage: model.StageDownload, ErrorMessage: err.Error()}
	}
	tmpPath := tmp.Name()
	tmp.Close() //nolint:errcheck
	defer os.Remove(tmpPath) //nolint:errcheck

	bytesWritten, err := p.ftp.DownloadToFile(ctx, ftpURL, tmpPath)
	if err != nil {
		return model.ProcessingResult{
			Success:        false,
			ErrorStage:     model.StageDownload,
			DownloadResult: &model.DownloadResult{Success: false, ErrorMessage: err.Error()},
		}
	}

	return p.extractArchiveFile(tmpPath, ftpURL, targetDir, &model.DownloadResult{Success: true, BytesWritten: bytesWritten})
}

func (p *DistributionProcessor) extractArchiveFile(tmpPath, rawURL, targetDir string, downloadResult *model.DownloadResult) model.ProcessingResult {
	kind := fetcher.DetectArchiveKind(rawURL)
	if kind == "" {
		return model.ProcessingResult{
			Success:          false,
			ErrorStage:       model.StageExtraction,
			DownloadResult:   downloadResult,
			ExtractionResult: &model.ExtractionResult{Success: false, Reason: "unsupported_format", ErrorMessage: "could not determine archive kind from URL"},
		}
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return model.ProcessingResult{Success: false, ErrorStage: model.StageExtraction, DownloadResult: downloadResult, ErrorMessage: err.Error()}
	}

	extracted, err := fetcher.ExtractArchive(tmpPath, targetDir, kind, p.safetyLimits)
	if err != nil {
		reason := "bad_archive"
		if kind == model.ArchiveTarXz {
			reason = "unsupported_format"
		}
		return model.ProcessingResult{
			Success:          false,
			ErrorStage:       model.StageExtraction,
			DownloadResult:   downloadResult,
			ExtractionResult: &model.ExtractionResult{Success: false, ErrorMessage: err.Error(), Reason: reason},
		}
	}

	return model.ProcessingResult{
		Success:          true,
		DownloadResult:   downloadResult,
		ExtractionResult: &model.ExtractionResult{Success: true, FilesExtracted: len(extracted)},
	}
}

func (p *DistributionProcessor) handleXSD(ctx context.Context, rawURL, targetDir string) model.ProcessingResult {
	count, err := p.xsd.DownloadSchema(ctx, rawURL, targetDir)
	if err != nil {
		return model.ProcessingResult{
			Success:      false,
			ErrorStage:   model.StageXSDDownload,
			ErrorMessage: err.Error(),
		}
	}
	if count == 0 {
		return model.ProcessingResult{
			Success:      false,
			ErrorStage:   model.StageXSDDownload,
			ErrorMessage: "xsd download failed",
		}
	}
	return model.ProcessingResult{
		Success:          true,
		ExtractionResult: &model.ExtractionResult{Success: true, FilesExtracted: count},
	}
}

func (p *DistributionProcessor) handleDirectory(ctx context.Context, rawURL, targetDir string) model.ProcessingResult {
	count, err := p.directory.MirrorDirectory(ctx, rawURL, targetDir)
	if err != nil {
		return model.ProcessingResult{
			Success:      false,
			ErrorStage:   model.StageDirectoryMirror,
			ErrorMessage: err.Error(),
		}
	}
	if count == 0 {
		return model.ProcessingResult{
			Success:      false,
			ErrorStage:   model.StageDirectoryMirror,
			ErrorMessage: "directory mirror failed",
		}
	}
	return model.ProcessingResult{
		Success:          true,
		ExtractionResult: &model.ExtractionResult{Success: true, FilesExtracted: count},
	}
}
