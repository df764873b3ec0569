package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinummonkey/biller/pkg/billing"
)

// FileArchive writes run reports as JSON files below a root directory,
// using the same layout as the S3 archive.
type FileArchive struct {
	rootDir string
}

// NewFileArchive creates the root directory if needed
func NewFileArchive(rootDir string) (*FileArchive, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &FileArchive{rootDir: rootDir}, nil
}

// Path returns where a report is stored
func (f *FileArchive) Path(report *billing.RunReport) string {
	return filepath.Join(f.rootDir, filepath.FromSlash(runKey(report)))
}

// ReportRun implements billing.Reporter
func (f *FileArchive) ReportRun(_ context.Context, report *billing.RunReport) error {
	file := f.Path(report)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return os.Rename(tmp, file)
}

// Get reads a report from disk
func (f *FileArchive) Get(report *billing.RunReport) (*billing.RunReport, error) {
	data, err := os.ReadFile(f.Path(report))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("run report %q: %w", report.RunID, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}

	var out billing.RunReport
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &out, nil
}
