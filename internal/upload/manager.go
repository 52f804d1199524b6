// internal/upload/manager.go
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

const MaxFileSize = 10 << 20 // 10MB per file

var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"application/pdf": true,
}

// FilePayload is one file of an upload batch, staged locally until the store
// confirms it.
type FilePayload struct {
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type"`
	Side         string `json:"side,omitempty"`
	Data         []byte `json:"-"`
}

// DocumentStore is the persistence collaborator for document uploads. Upload
// is idempotent per (type, original name, size): a retried batch replaces
// matching entries instead of appending duplicates.
type DocumentStore interface {
	Upload(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType, files []FilePayload) (*models.DocumentRecord, error)
	ListAll(ctx context.Context, applicationID uuid.UUID) ([]models.DocumentRecord, error)
	DownloadOne(ctx context.Context, applicationID uuid.UUID, filename string) ([]byte, error)
	Delete(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType, filename string) error
}

// SlotView is the render-ready state of one document slot.
type SlotView struct {
	Type     models.DocumentType   `json:"type"`
	Label    string                `json:"label"`
	Required bool                  `json:"required"`
	Status   models.DocumentStatus `json:"status"`
	Progress int                   `json:"progress"`
	Files    models.DocumentFiles  `json:"files"`
	Pending  []FilePayload         `json:"pending,omitempty"`
	Error    *apperrors.Error      `json:"error,omitempty"`
}

// Manager owns the four document slots of one application: staged batches,
// upload status and progress, retry state, and the liveness capture
// sub-flow. A batch is one atomic unit with one status: a mixed
// valid/invalid selection uploads nothing, and a failed batch stays staged so
// retry resubmits the exact same files.
type Manager struct {
	mu        sync.Mutex
	store     DocumentStore
	telemetry *wizard.TelemetrySession
	logger    *logrus.Entry

	appID  uuid.UUID
	hasApp bool

	records  map[models.DocumentType]*models.DocumentRecord
	pending  map[models.DocumentType][]FilePayload
	status   map[models.DocumentType]models.DocumentStatus
	progress map[models.DocumentType]int
	lastErr  map[models.DocumentType]*apperrors.Error

	capture *CaptureSession
}

func NewManager(store DocumentStore, telemetry *wizard.TelemetrySession) *Manager {
	m := &Manager{
		store:     store,
		telemetry: telemetry,
		logger:    logrus.WithField("component", "upload"),
		records:   make(map[models.DocumentType]*models.DocumentRecord),
		pending:   make(map[models.DocumentType][]FilePayload),
		status:    make(map[models.DocumentType]models.DocumentStatus),
		progress:  make(map[models.DocumentType]int),
		lastErr:   make(map[models.DocumentType]*apperrors.Error),
	}
	for _, t := range models.AllDocumentTypes {
		m.status[t] = models.DocumentStatusNotUploaded
	}
	return m
}

// SetApplication binds the manager to a created application. Uploads cannot
// occur before the application exists.
func (m *Manager) SetApplication(id uuid.UUID) {
	m.mu.Lock()
	m.appID = id
	m.hasApp = true
	m.mu.Unlock()
}

// Refresh replaces the confirmed records with the store's copy.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if !m.hasApp {
		m.mu.Unlock()
		return nil
	}
	appID := m.appID
	m.mu.Unlock()

	records, err := m.store.ListAll(ctx, appID)
	if err != nil {
		return apperrors.Normalize(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		rec := records[i]
		m.records[rec.Type] = &rec
		if m.status[rec.Type] != models.DocumentStatusUploading {
			m.status[rec.Type] = rec.Status
		}
	}
	return nil
}

// SelectFiles validates a picked batch and, when every file passes,
// immediately uploads it. Validation runs per file, in order, short-circuits
// on the first failure, and a failure aborts the whole batch: no partial
// upload of a mixed selection.
func (m *Manager) SelectFiles(ctx context.Context, docType models.DocumentType, files []FilePayload) error {
	if !models.ValidDocumentType(docType) {
		return apperrors.Validation(fmt.Sprintf("Unknown document type %q.", docType))
	}
	if len(files) == 0 {
		return apperrors.Validation("No files selected.")
	}

	for _, f := range files {
		if err := validateFile(f); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.pending[docType] = append(m.pending[docType], files...)
	batch := append([]FilePayload(nil), m.pending[docType]...)
	m.mu.Unlock()

	return m.Upload(ctx, docType, batch)
}

// validateFile applies the per-file rules in order: present and non-empty,
// size cap, then content type. The first broken rule names itself.
func validateFile(f FilePayload) error {
	if f.OriginalName == "" || f.Size == 0 || len(f.Data) == 0 {
		return apperrors.Validation("An empty file was selected. Please choose a valid file.")
	}
	if f.Size > MaxFileSize {
		return apperrors.Validation(fmt.Sprintf("File %q exceeds the 10MB size limit.", f.OriginalName))
	}
	if !allowedContentTypes[f.ContentType] {
		return apperrors.Validation(fmt.Sprintf("File %q has an unsupported format. Allowed formats: JPEG, PNG, PDF.", f.OriginalName))
	}
	return nil
}

// Upload sends one batch as a single multipart unit. While the store call is
// in flight a simulated progress indicator advances, since byte-level
// progress is not assumed available. On failure the batch stays staged for
// retry and the error is classified before surfacing.
func (m *Manager) Upload(ctx context.Context, docType models.DocumentType, files []FilePayload) error {
	m.mu.Lock()
	if !m.hasApp {
		m.mu.Unlock()
		return apperrors.Validation("The application must be created before uploading documents.")
	}
	if m.status[docType] == models.DocumentStatusUploading {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindConflict, "An upload for this document is already in progress.")
	}
	if len(files) == 0 {
		m.mu.Unlock()
		return apperrors.Validation("No files to upload.")
	}
	m.status[docType] = models.DocumentStatusUploading
	m.progress[docType] = 0
	delete(m.lastErr, docType)
	appID := m.appID
	m.mu.Unlock()

	m.telemetry.Track(wizard.EventUploadStarted, models.StepDocuments, map[string]interface{}{
		"document_type": string(docType),
		"files":         len(files),
	})

	stopProgress := m.simulateProgress(docType)
	record, err := m.store.Upload(ctx, appID, docType, files)
	stopProgress()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		tagged := apperrors.Normalize(err)
		m.status[docType] = models.DocumentStatusError
		m.lastErr[docType] = tagged
		// The failed batch is retained so retry resubmits the same files.
		m.pending[docType] = files

		m.telemetry.Track(wizard.EventUploadFailed, models.StepDocuments, map[string]interface{}{
			"document_type": string(docType),
			"kind":          string(tagged.Kind),
		})
		return tagged
	}

	m.records[docType] = record
	m.status[docType] = record.Status
	m.progress[docType] = 100
	delete(m.pending, docType)
	delete(m.lastErr, docType)

	m.telemetry.Track(wizard.EventUploadCompleted, models.StepDocuments, map[string]interface{}{
		"document_type": string(docType),
		"files":         len(record.Files),
	})
	return nil
}

// simulateProgress drives the slot's progress toward 90 until stopped;
// completion sets it to 100.
func (m *Manager) simulateProgress(docType models.DocumentType) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.Lock()
				if m.status[docType] == models.DocumentStatusUploading && m.progress[docType] < 90 {
					m.progress[docType] += 10
				}
				m.mu.Unlock()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// Retry re-issues the exact failed batch. It requires a staged batch from a
// previous failure; validation failures never stage one.
func (m *Manager) Retry(ctx context.Context, docType models.DocumentType) error {
	m.mu.Lock()
	batch := append([]FilePayload(nil), m.pending[docType]...)
	m.mu.Unlock()

	if len(batch) == 0 {
		return apperrors.Validation("There is no failed upload to retry for this document.")
	}
	return m.Upload(ctx, docType, batch)
}

// RemoveFile drops one file from the staged batch. Deleting an already
// confirmed file is a separate, explicit store call.
func (m *Manager) RemoveFile(docType models.DocumentType, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.pending[docType]
	if index < 0 || index >= len(staged) {
		return apperrors.Validation("No such staged file.")
	}
	m.pending[docType] = append(staged[:index], staged[index+1:]...)
	if len(m.pending[docType]) == 0 {
		delete(m.pending, docType)
		if m.status[docType] == models.DocumentStatusError {
			m.status[docType] = models.DocumentStatusNotUploaded
			delete(m.lastErr, docType)
		}
	}
	return nil
}

// DeleteFile removes a confirmed file through the store and refreshes the
// slot with the confirmed response.
func (m *Manager) DeleteFile(ctx context.Context, docType models.DocumentType, filename string) error {
	m.mu.Lock()
	if !m.hasApp {
		m.mu.Unlock()
		return apperrors.Validation("The application must be created first.")
	}
	appID := m.appID
	m.mu.Unlock()

	if err := m.store.Delete(ctx, appID, docType, filename); err != nil {
		return apperrors.Normalize(err)
	}
	return m.Refresh(ctx)
}

// RequiredComplete reports whether every required document type holds at
// least one server-confirmed file. The liveness selfie is excluded.
func (m *Manager) RequiredComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range models.RequiredDocumentTypes {
		if !m.records[t].HasFiles() {
			return false
		}
	}
	return true
}

// Slots returns the render-ready state of every document slot.
func (m *Manager) Slots() []SlotView {
	m.mu.Lock()
	defer m.mu.Unlock()

	required := make(map[models.DocumentType]bool)
	for _, t := range models.RequiredDocumentTypes {
		required[t] = true
	}

	views := make([]SlotView, 0, len(models.AllDocumentTypes))
	for _, t := range models.AllDocumentTypes {
		view := SlotView{
			Type:     t,
			Label:    t.Label(),
			Required: required[t],
			Status:   m.status[t],
			Progress: m.progress[t],
			Pending:  append([]FilePayload(nil), m.pending[t]...),
			Error:    m.lastErr[t],
		}
		if rec := m.records[t]; rec != nil {
			view.Files = append(models.DocumentFiles(nil), rec.Files...)
		}
		views = append(views, view)
	}
	return views
}

// Status returns the slot's current upload status.
func (m *Manager) Status(docType models.DocumentType) models.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[docType]
}

// PendingBatch returns a copy of the staged files for a slot.
func (m *Manager) PendingBatch(docType models.DocumentType) []FilePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FilePayload(nil), m.pending[docType]...)
}

// LastError returns the slot's last classified upload error.
func (m *Manager) LastError(docType models.DocumentType) *apperrors.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr[docType]
}

// Dispose releases the capture device if a session is still open. Called on
// session teardown so the camera is never left running.
func (m *Manager) Dispose() {
	m.StopCapture()
}
