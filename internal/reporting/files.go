package reporting

import (
	"fmt"
	"os"
	"path/filepath"
)

// Output file names written by WriteDir.
const (
	ReportFile      = "REPORT.md"
	AssessmentsFile = "assessments.csv"
)

// WriteDir writes the Markdown report and the assessments CSV into dir,
// creating it if needed, and returns the paths written.
func WriteDir(dir string, r *Report, rows []AssessmentRow) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	reportPath := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(reportPath, []byte(RenderMarkdown(r)), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", ReportFile, err)
	}

	csvPath := filepath.Join(dir, AssessmentsFile)
	f, err := os.Create(csvPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", AssessmentsFile, err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", AssessmentsFile, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", AssessmentsFile, err)
	}
	return []string{reportPath, csvPath}, nil
}
