package fetcher

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-acquirer/internal/model"
)

// DetectArchiveKind classifies a filename by its extension. Returns
// model.DistUnknown's sibling: an empty ArchiveKind when nothing matches.
func DetectArchiveKind(name string) model.ArchiveKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return model.ArchiveZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return model.ArchiveTarGz
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return model.ArchiveTarBz2
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return model.ArchiveTarXz
	case strings.HasSuffix(lower, ".tar"):
		return model.ArchiveTar
	default:
		return ""
	}
}

// ArchiveSafetyLimits bounds what ExtractArchive will unpack, matching
// spec §3's safety invariants (checked against the whole archive before
// any member is written, never partway through extraction).
type ArchiveSafetyLimits struct {
	MaxTotalSize int64 // sum of all members' declared uncompressed sizes
	MaxDepth     int   // max path separator count in any member name
}

// scanEntry is the minimal shape PreScanArchive needs from any archive
// format's directory listing.
type scanEntry struct {
	name string
	size int64
}

// PreScanArchive reads an archive's member directory (without decompressing
// member bodies) and rejects it if the declared total size or path depth
// exceeds limits. This runs before ExtractArchive touches disk, so a zip
// bomb is refused for its declared metadata, never for what it expands to.
func PreScanArchive(path string, kind model.ArchiveKind, limits ArchiveSafetyLimits) error {
	entries, err := listArchiveEntries(path, kind)
	if err != nil {
		return err
	}

	var total int64
	for _, e := range entries {
		total += e.size
		if limits.MaxTotalSize > 0 && total > limits.MaxTotalSize {
			return eris.Errorf("archive: declared total size exceeds limit of %d bytes", limits.MaxTotalSize)
		}
		if limits.MaxDepth > 0 {
			depth := strings.Count(filepath.ToSlash(e.name), "/")
			if depth > limits.MaxDepth {
				return eris.Errorf("archive: entry %q exceeds max extraction depth %d", e.name, limits.MaxDepth)
			}
		}
	}

	return nil
}

func listArchiveEntries(path string, kind model.ArchiveKind) ([]scanEntry, error) {
	switch kind {
	case model.ArchiveZip:
		return listZipEntries(path)
	case model.ArchiveTar, model.ArchiveTarGz, model.ArchiveTarBz2:
		return listTarEntries(path, kind)
	case model.ArchiveTarXz:
		return nil, eris.New("archive: tar.xz pre-scan is not supported")
	default:
		return nil, eris.Errorf("archive: unknown kind %q", kind)
	}
}

func listZipEntries(path string) ([]scanEntry, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrap(err, "archive: open zip for pre-scan")
	}
	defer r.Close() //nolint:errcheck

	entries := make([]scanEntry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, scanEntry{name: f.Name, size: int64(f.UncompressedSize64)})
	}
	return entries, nil
}

func tarReaderFor(path string, kind model.ArchiveKind) (io.ReadCloser, *tar.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "archive: open tar")
	}

	var r io.Reader = f
	switch kind {
	case model.ArchiveTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close() //nolint:errcheck
			return nil, nil, eris.Wrap(err, "archive: open gzip stream")
		}
		r = gz
	case model.ArchiveTarBz2:
		r = bzip2.NewReader(f)
	case model.ArchiveTar:
		// plain tar, no extra decompression layer
	default:
		f.Close() //nolint:errcheck
		return nil, nil, eris.Errorf("archive: unsupported tar kind %q", kind)
	}

	return f, tar.NewReader(r), nil
}

func listTarEntries(path string, kind model.ArchiveKind) ([]scanEntry, error) {
	f, tr, err := tarReaderFor(path, kind)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var entries []scanEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "archive: read tar header")
		}
		if hdr.Typeflag == tar.TypeReg {
			entries = append(entries, scanEntry{name: hdr.Name, size: hdr.Size})
		}
	}
	return entries, nil
}

// ExtractArchive dispatches to the format-specific extractor after running
// PreScanArchive. Returns the list of extracted file paths.
func ExtractArchive(path, destDir string, kind model.ArchiveKind, limits ArchiveSafetyLimits) ([]string, error) {
	if err := PreScanArchive(path, kind, limits); err != nil {
		return nil, err
	}

	switch kind {
	case model.ArchiveZip:
		return ExtractZIP(path, destDir)
	case model.ArchiveTar, model.ArchiveTarGz, model.ArchiveTarBz2:
		return extractTar(path, destDir, kind)
	case model.ArchiveTarXz:
		// No pure stdlib xz decoder, and no example in the corpus pulls in
		// a CGO xz binding for a capability exercised nowhere else. Callers
		// should treat this as an unsupported-format extraction failure
		// (model.ExtractionResult.Reason = "unsupported_format").
		return nil, eris.New("archive: tar.xz extraction is not supported")
	default:
		return nil, eris.Errorf("archive: unknown kind %q", kind)
	}
}

func extractTar(path, destDir string, kind model.ArchiveKind) ([]string, error) {
	f, tr, err := tarReaderFor(path, kind)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var extracted []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, eris.Wrap(err, "archive: read tar header")
		}

		destPath := filepath.Join(destDir, hdr.Name)
		if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return extracted, eris.Errorf("archive: illegal path %q (tar slip attempt)", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return extracted, eris.Wrap(err, "archive: create directory")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return extracted, eris.Wrap(err, "archive: create parent directory")
			}
			out, err := os.Create(destPath)
			if err != nil {
				return extracted, eris.Wrap(err, "archive: create file")
			}
			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec
				out.Close() //nolint:errcheck
				return extracted, eris.Wrap(err, "archive: write file")
			}
			out.Close() //nolint:errcheck
			extracted = append(extracted, destPath)
		}
	}

	return extracted, nil
}
