package sync

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Summary tallies one run's outcomes per action, with update sub-kinds so the
// final log line shows what kind of drift the run corrected.
type Summary struct {
	Created   int
	Recreated int
	Updated   int
	Skipped   int
	Pruned    int

	UpdatedPrice int
	UpdatedStock int
	UpdatedImage int
}

// Add folds the other summary into this one.
func (s *Summary) Add(other Summary) {
	s.Created += other.Created
	s.Recreated += other.Recreated
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Pruned += other.Pruned
	s.UpdatedPrice += other.UpdatedPrice
	s.UpdatedStock += other.UpdatedStock
	s.UpdatedImage += other.UpdatedImage
}

// FailedImage records an image that could not be attached during the run.
type FailedImage struct {
	Handle string
	URL    string
	Reason string
}

// FailedImageReportName is the CSV written next to the batch files when a run
// leaves failed images behind.
const FailedImageReportName = "failed_images_report.csv"

// WriteFailedImageReport writes the failed-image CSV into dir. Nothing is
// written when the list is empty.
func WriteFailedImageReport(dir string, failed []FailedImage) (string, error) {
	if len(failed) == 0 {
		return "", nil
	}

	path := filepath.Join(dir, FailedImageReportName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"handle", "image_url", "reason"}); err != nil {
		return "", err
	}
	for _, fi := range failed {
		if err := w.Write([]string{fi.Handle, fi.URL, fi.Reason}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to write image report: %w", err)
	}
	return path, nil
}
