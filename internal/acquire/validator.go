package acquire

import (
	"os"
	"path/filepath"

	"github.com/sells-group/filing-acquirer/internal/model"
)

// Validator checks physical reality before the coordinator is allowed to
// write "completed" to the database (spec §3's governing invariant:
// the database must never claim more than the filesystem can show).
type Validator struct {
	MaxDepth int
}

// NewValidator constructs a Validator bounding recursive file counts at
// maxDepth path segments below the root being checked.
func NewValidator(maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = 12
	}
	return &Validator{MaxDepth: maxDepth}
}

// ValidateDownload checks that a downloaded file exists, is a regular
// file, and meets a minimum size — the pre-extraction half of the
// pipeline's physical-reality check.
func (v *Validator) ValidateDownload(path string, minSize int64) model.ValidationResult {
	result := model.ValidationResult{Valid: true, Checks: map[string]bool{}}

	info, err := os.Stat(path)
	if err != nil {
		result.Checks["file_exists"] = false
		result.Valid = false
		result.Reason = "file does not exist on disk"
		return result
	}
	result.Checks["file_exists"] = true

	if info.IsDir() {
		result.Checks["is_file"] = false
		result.Valid = false
		result.Reason = "path is not a file"
		return result
	}
	result.Checks["is_file"] = true

	if info.Size() >= minSize {
		result.Checks["minimum_size"] = true
	} else {
		result.Checks["minimum_size"] = false
		result.Valid = false
		result.Reason = "file too small"
	}

	return result
}

// ValidateExtraction checks that a directory exists and contains at least
// expectedMinFiles regular files within MaxDepth — the post-extraction,
// pre-database-write check (spec §4.7's "paranoid re-verification").
func (v *Validator) ValidateExtraction(dir string, expectedMinFiles int) model.ValidationResult {
	result := model.ValidationResult{Valid: true, Checks: map[string]bool{}}

	info, err := os.Stat(dir)
	if err != nil {
		result.Checks["directory_exists"] = false
		result.Valid = false
		result.Reason = "directory does not exist"
		return result
	}
	result.Checks["directory_exists"] = true

	if !info.IsDir() {
		result.Checks["is_directory"] = false
		result.Valid = false
		result.Reason = "path is not a directory"
		return result
	}
	result.Checks["is_directory"] = true

	count, err := v.countFilesRecursive(dir)
	if err != nil {
		result.Checks["minimum_files"] = false
		result.Valid = false
		result.Reason = "cannot count files: " + err.Error()
		return result
	}
	result.FileCount = count

	if count >= expectedMinFiles {
		result.Checks["minimum_files"] = true
	} else {
		result.Checks["minimum_files"] = false
		result.Valid = false
		result.Reason = "too few files"
	}

	return result
}

func (v *Validator) countFilesRecursive(root string) (int, error) {
	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		depth := len(splitPath(rel))
		if depth <= v.MaxDepth {
			count++
		}
		return nil
	})
	return count, err
}

func splitPath(rel string) []string {
	var parts []string
	cur := rel
	for {
		dir, file := filepath.Split(cur)
		if file != "" {
			parts = append(parts, file)
		}
		dir = filepath.Clean(dir)
		if dir == "." || dir == string(filepath.Separator) || dir == cur {
			break
		}
		cur = dir
	}
	return parts
}

// instanceFilePatterns are filename globs tried, in order, to locate a
// filing's primary XBRL instance document within an extracted directory.
var instanceFilePatterns = []string{
	"*_htm.xml",
	"*-ix.xhtml",
	"R1.htm",
	"*.xhtml",
	"*.htm",
}

// FindInstanceFile searches dir for a filing's primary instance document
// using a small set of known naming conventions, returning "" if none is
// found within MaxDepth.
func (v *Validator) FindInstanceFile(dir string) string {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return ""
	}

	for _, pattern := range instanceFilePatterns {
		var found string
		_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || found != "" {
				return nil
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				return nil
			}
			if len(splitPath(rel)) > v.MaxDepth {
				return nil
			}
			if ok, _ := filepath.Match(pattern, info.Name()); ok {
				found = path
			}
			return nil
		})
		if found != "" {
			return found
		}
	}
	return ""
}
