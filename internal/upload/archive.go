// internal/upload/archive.go
package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
)

// ArchiveResult is the outcome of a bulk export: the zip bytes plus the count
// of files actually bundled and the count skipped due to per-file failures.
type ArchiveResult struct {
	Data     []byte
	Included int
	Skipped  int
}

// DownloadAll fetches every uploaded file for the application and bundles
// them into one zip grouped by document-type label. A single file's download
// failure does not abort the bundle: it is skipped, and the result reports
// how many files made it in.
func (m *Manager) DownloadAll(ctx context.Context) (*ArchiveResult, error) {
	m.mu.Lock()
	if !m.hasApp {
		m.mu.Unlock()
		return nil, apperrors.Validation("The application must be created first.")
	}
	appID := m.appID
	m.mu.Unlock()

	records, err := m.store.ListAll(ctx, appID)
	if err != nil {
		return nil, apperrors.Normalize(err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	result := &ArchiveResult{}

	for _, rec := range records {
		for _, file := range rec.Files {
			data, err := m.store.DownloadOne(ctx, appID, file.Filename)
			if err != nil {
				m.logger.WithError(err).WithField("filename", file.Filename).Warn("skipping file in archive export")
				result.Skipped++
				continue
			}

			name := file.OriginalName
			if name == "" {
				name = path.Base(file.Filename)
			}
			entry, err := zw.Create(fmt.Sprintf("%s/%s", rec.Type.Label(), name))
			if err != nil {
				result.Skipped++
				continue
			}
			if _, err := entry.Write(data); err != nil {
				return nil, apperrors.Normalize(err)
			}
			result.Included++
		}
	}

	if err := zw.Close(); err != nil {
		return nil, apperrors.Normalize(err)
	}

	result.Data = buf.Bytes()
	return result, nil
}
