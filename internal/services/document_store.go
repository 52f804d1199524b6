// internal/services/document_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/upload"
)

// DocumentService is the Postgres+S3 backed document store. A record's file
// list only changes through a confirmed upload or delete; uploads are
// idempotent per (type, original name, size) so a user-driven retry after an
// ambiguous failure replaces the matching entries instead of appending
// duplicates.
type DocumentService struct {
	db      *gorm.DB
	storage *StorageService
	folder  string
}

func NewDocumentService(db *gorm.DB, storage *StorageService, folder string) *DocumentService {
	return &DocumentService{db: db, storage: storage, folder: folder}
}

func (s *DocumentService) Upload(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType, files []upload.FilePayload) (*models.DocumentRecord, error) {
	if !models.ValidDocumentType(docType) {
		return nil, apperrors.Validation(fmt.Sprintf("Unknown document type %q.", docType))
	}

	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, "id = ?", applicationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, "Application not found.", err)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if app.Status.ReadOnly() {
		return nil, apperrors.New(apperrors.KindConflict, "Documents can no longer be changed on this application.")
	}

	record, err := s.findOrCreate(ctx, applicationID, docType)
	if err != nil {
		return nil, err
	}

	stored := make([]models.DocumentFile, 0, len(files))
	for _, f := range files {
		obj, err := s.storage.Upload(f.Data, f.OriginalName, f.ContentType, s.folder)
		if err != nil {
			return nil, fmt.Errorf("failed to store %q: %w", f.OriginalName, err)
		}
		stored = append(stored, models.DocumentFile{
			Filename:     obj.Key,
			OriginalName: f.OriginalName,
			Size:         f.Size,
			ContentType:  f.ContentType,
			Side:         f.Side,
		})
	}

	for _, file := range stored {
		record.Files = upsertFile(record.Files, file)
	}
	record.Status = models.DocumentStatusUploaded

	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, fmt.Errorf("failed to save document record: %w", err)
	}

	return record, nil
}

// upsertFile replaces an entry matching by original name and size, otherwise
// appends. The replaced entry's stored object becomes unreferenced; the
// storage key is regenerated per upload so no collision is possible.
func upsertFile(files models.DocumentFiles, file models.DocumentFile) models.DocumentFiles {
	for i, existing := range files {
		if existing.OriginalName == file.OriginalName && existing.Size == file.Size {
			files[i] = file
			return files
		}
	}
	return append(files, file)
}

func (s *DocumentService) findOrCreate(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType) (*models.DocumentRecord, error) {
	var record models.DocumentRecord
	err := s.db.WithContext(ctx).
		Where("application_id = ? AND type = ?", applicationID, docType).
		First(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	record = models.DocumentRecord{
		ApplicationID: applicationID,
		Type:          docType,
		Status:        models.DocumentStatusNotUploaded,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}
	return &record, nil
}

func (s *DocumentService) ListAll(ctx context.Context, applicationID uuid.UUID) ([]models.DocumentRecord, error) {
	var records []models.DocumentRecord
	err := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("type").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return records, nil
}

// PresignFile returns a short-lived direct link for a stored file, or ""
// when the backing storage cannot issue links and the bytes must be proxied.
func (s *DocumentService) PresignFile(ctx context.Context, applicationID uuid.UUID, filename string) (string, error) {
	if !s.storage.CanPresign() {
		return "", nil
	}

	records, err := s.ListAll(ctx, applicationID)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if _, ok := rec.FindFile(filename); ok {
			return s.storage.PresignedURL(filename, 15*time.Minute)
		}
	}
	return "", apperrors.New(apperrors.KindNotFound, "The requested file no longer exists.")
}

func (s *DocumentService) DownloadOne(ctx context.Context, applicationID uuid.UUID, filename string) ([]byte, error) {
	records, err := s.ListAll(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if _, ok := rec.FindFile(filename); ok {
			return s.storage.Download(filename)
		}
	}
	return nil, apperrors.New(apperrors.KindNotFound, "The requested file no longer exists.")
}

func (s *DocumentService) Delete(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType, filename string) error {
	var record models.DocumentRecord
	err := s.db.WithContext(ctx).
		Where("application_id = ? AND type = ?", applicationID, docType).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Wrap(apperrors.KindNotFound, "Document not found.", err)
		}
		return fmt.Errorf("database error: %w", err)
	}

	file, ok := record.FindFile(filename)
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "The requested file no longer exists.")
	}

	if err := s.storage.Delete(file.Filename); err != nil {
		return fmt.Errorf("failed to delete stored file: %w", err)
	}

	kept := make(models.DocumentFiles, 0, len(record.Files)-1)
	for _, f := range record.Files {
		if f.Filename != filename {
			kept = append(kept, f)
		}
	}
	record.Files = kept
	if len(record.Files) == 0 {
		record.Status = models.DocumentStatusNotUploaded
	}

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to update document record: %w", err)
	}
	return nil
}

// RequiredComplete implements the wizard's document gate: every required
// type must hold at least one confirmed file.
func (s *DocumentService) RequiredComplete(ctx context.Context, applicationID uuid.UUID) (bool, error) {
	records, err := s.ListAll(ctx, applicationID)
	if err != nil {
		return false, err
	}

	byType := make(map[models.DocumentType]*models.DocumentRecord, len(records))
	for i := range records {
		byType[records[i].Type] = &records[i]
	}

	for _, t := range models.RequiredDocumentTypes {
		if !byType[t].HasFiles() {
			return false, nil
		}
	}
	return true, nil
}
