// Package report persists research reports as JSON files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/mikeboe/deep-research/pkg/research"
)

const maxQueryChars = 50

// DefaultFilename derives a file name from the query and the time of saving:
// research_report_<query>_<YYYYMMDD_HHMMSS>.json
func DefaultFilename(query string, at time.Time) string {
	var b strings.Builder
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_")
	if runes := []rune(safe); len(runes) > maxQueryChars {
		safe = string(runes[:maxQueryChars])
	}
	return fmt.Sprintf("research_report_%s_%s.json", safe, at.Format("20060102_150405"))
}

// Save writes the storage form of r to path and returns the path used.
// An empty path means DefaultFilename in the working directory.
func Save(r *research.ResearchReport, path string, previewLength int) (string, error) {
	if r == nil {
		return "", fmt.Errorf("report is nil")
	}
	if path == "" {
		path = DefaultFilename(r.OriginalQuery, time.Now())
	}

	data, err := json.MarshalIndent(r.ForStorage(previewLength), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Load reads a report written by Save.
func Load(path string) (*research.ResearchReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r research.ResearchReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}
