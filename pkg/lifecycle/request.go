package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/estimate"
)

// MaxDatasetBytes is the upload ceiling enforced before any network
// call. Larger files are rejected locally.
const MaxDatasetBytes = 1 << 30 // 1 GiB

// supportedExtensions lists the dataset formats the service accepts.
var supportedExtensions = map[string]bool{
	".csv":     true,
	".tsv":     true,
	".xlsx":    true,
	".xls":     true,
	".json":    true,
	".parquet": true,
	".arff":    true,
	".feather": true,
}

// SupportedExtensions returns the accepted dataset file extensions,
// for use in user-facing messages.
func SupportedExtensions() []string {
	return []string{".csv", ".tsv", ".xlsx", ".xls", ".json", ".parquet", ".arff", ".feather"}
}

// AnalysisRequest describes one dataset submission.
type AnalysisRequest struct {
	// FilePath is the local path to the dataset file.
	FilePath string

	// TargetColumn is the column the discovery run predicts.
	TargetColumn string

	// DepthIterations controls analysis depth; cost scales with it.
	DepthIterations int

	// Visibility selects a public (free, gallery-listed) or private
	// (credit-charged) run.
	Visibility estimate.Visibility

	Title       string
	Description string

	// ColumnDescriptions optionally annotates columns by name.
	ColumnDescriptions map[string]string

	// NumColumns is an optional hint of the dataset's column count,
	// used to reject over-deep requests before uploading. The actual
	// count reported by the upload pipeline is authoritative and is
	// re-checked after upload.
	NumColumns int

	// Nonce distinguishes deliberate re-submissions of identical
	// content. Empty means "this exact submission", and repeats
	// deduplicate to the original run.
	Nonce string
}

// Validate checks everything that can be checked without touching the
// network: request shape, then the file itself. It returns the file
// size in bytes for cost estimation.
func (r *AnalysisRequest) Validate() (int64, error) {
	if strings.TrimSpace(r.TargetColumn) == "" {
		return 0, &ValidationError{Field: "target_column", Message: "must not be empty"}
	}
	if r.DepthIterations < 1 {
		return 0, &ValidationError{Field: "depth_iterations", Message: "must be at least 1"}
	}
	if !r.Visibility.IsValid() {
		return 0, &ValidationError{Field: "visibility", Message: fmt.Sprintf("must be %q or %q", estimate.VisibilityPublic, estimate.VisibilityPrivate)}
	}
	if r.Visibility == estimate.VisibilityPublic && r.DepthIterations != 1 {
		return 0, &ValidationError{Field: "depth_iterations", Message: "public analyses run at depth 1"}
	}
	if r.NumColumns > 0 && r.DepthIterations > r.NumColumns-2 {
		return 0, &ValidationError{
			Field:   "depth_iterations",
			Message: fmt.Sprintf("depth %d too deep for %d columns (max %d)", r.DepthIterations, r.NumColumns, r.NumColumns-2),
		}
	}
	return r.validateFile()
}

func (r *AnalysisRequest) validateFile() (int64, error) {
	if strings.TrimSpace(r.FilePath) == "" {
		return 0, &ValidationError{Field: "file_path", Message: "must not be empty"}
	}
	ext := strings.ToLower(filepath.Ext(r.FilePath))
	if !supportedExtensions[ext] {
		return 0, &ValidationError{
			Field:   "file_path",
			Message: fmt.Sprintf("unsupported file type %q (supported: %s)", ext, strings.Join(SupportedExtensions(), ", ")),
		}
	}
	info, err := os.Stat(r.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &ValidationError{Field: "file_path", Message: "file does not exist"}
		}
		return 0, fmt.Errorf("stat dataset file: %w", err)
	}
	if info.IsDir() {
		return 0, &ValidationError{Field: "file_path", Message: "path is a directory"}
	}
	if info.Size() == 0 {
		return 0, &ValidationError{Field: "file_path", Message: "file is empty"}
	}
	if info.Size() > MaxDatasetBytes {
		return 0, &ValidationError{
			Field:   "file_path",
			Message: fmt.Sprintf("file is %d bytes, over the 1 GB limit", info.Size()),
		}
	}
	return info.Size(), nil
}

// SizeMB converts a byte count to megabytes for cost estimation.
func SizeMB(sizeBytes int64) float64 {
	return float64(sizeBytes) / (1024 * 1024)
}
