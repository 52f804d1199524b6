// internal/upload/manager_test.go
package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
)

type fakeDocStore struct {
	mu        sync.Mutex
	uploads   int
	failCount int
	failWith  error
	batches   map[models.DocumentType][][]FilePayload
	records   map[models.DocumentType]*models.DocumentRecord
	blobs     map[string][]byte
	brokenKey string
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		batches: make(map[models.DocumentType][][]FilePayload),
		records: make(map[models.DocumentType]*models.DocumentRecord),
		blobs:   make(map[string][]byte),
	}
}

func (f *fakeDocStore) failNext(n int, err error) {
	f.mu.Lock()
	f.failCount = n
	f.failWith = err
	f.mu.Unlock()
}

func (f *fakeDocStore) Upload(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType, files []FilePayload) (*models.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads++
	f.batches[docType] = append(f.batches[docType], append([]FilePayload(nil), files...))

	if f.failCount > 0 {
		f.failCount--
		return nil, f.failWith
	}

	record := f.records[docType]
	if record == nil {
		record = &models.DocumentRecord{ApplicationID: applicationID, Type: docType}
		record.ID = uuid.New()
		f.records[docType] = record
	}
	for _, file := range files {
		key := fmt.Sprintf("documents/%s/%s", docType, file.OriginalName)
		replaced := false
		for i, existing := range record.Files {
			if existing.OriginalName == file.OriginalName && existing.Size == file.Size {
				record.Files[i] = models.DocumentFile{Filename: key, OriginalName: file.OriginalName, Size: file.Size, ContentType: file.ContentType}
				replaced = true
				break
			}
		}
		if !replaced {
			record.Files = append(record.Files, models.DocumentFile{Filename: key, OriginalName: file.OriginalName, Size: file.Size, ContentType: file.ContentType})
		}
		f.blobs[key] = file.Data
	}
	record.Status = models.DocumentStatusUploaded

	copied := *record
	copied.Files = append(models.DocumentFiles(nil), record.Files...)
	return &copied, nil
}

func (f *fakeDocStore) ListAll(ctx context.Context, applicationID uuid.UUID) ([]models.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DocumentRecord
	for _, rec := range f.records {
		copied := *rec
		copied.Files = append(models.DocumentFiles(nil), rec.Files...)
		out = append(out, copied)
	}
	return out, nil
}

func (f *fakeDocStore) DownloadOne(ctx context.Context, applicationID uuid.UUID, filename string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filename == f.brokenKey {
		return nil, errors.New("read failed")
	}
	data, ok := f.blobs[filename]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "The requested file no longer exists.")
	}
	return data, nil
}

func (f *fakeDocStore) Delete(ctx context.Context, applicationID uuid.UUID, docType models.DocumentType, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[docType]
	if record == nil {
		return apperrors.New(apperrors.KindNotFound, "Document not found.")
	}
	kept := record.Files[:0]
	for _, file := range record.Files {
		if file.Filename != filename {
			kept = append(kept, file)
		}
	}
	record.Files = kept
	if len(record.Files) == 0 {
		record.Status = models.DocumentStatusNotUploaded
	}
	delete(f.blobs, filename)
	return nil
}

func jpegFile(name string, size int) FilePayload {
	return FilePayload{
		OriginalName: name,
		Size:         int64(size),
		ContentType:  "image/jpeg",
		Data:         bytes.Repeat([]byte{0xff}, size),
	}
}

func newTestManager(store DocumentStore) *Manager {
	m := NewManager(store, nil)
	m.SetApplication(uuid.New())
	return m
}

func TestSelectFilesUploadsValidBatch(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)

	err := m.SelectFiles(context.Background(), models.DocumentTypeNID, []FilePayload{
		jpegFile("nid_front.jpg", 1024),
		jpegFile("nid_back.jpg", 2048),
	})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusUploaded, m.Status(models.DocumentTypeNID))
	assert.Empty(t, m.PendingBatch(models.DocumentTypeNID))
	assert.Nil(t, m.LastError(models.DocumentTypeNID))
	require.Len(t, store.batches[models.DocumentTypeNID], 1)
	assert.Len(t, store.batches[models.DocumentTypeNID][0], 2)
}

func TestMixedBatchUploadsNothing(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)

	oversized := jpegFile("huge.jpg", 64)
	oversized.Size = MaxFileSize + 1

	err := m.SelectFiles(context.Background(), models.DocumentTypeNID, []FilePayload{
		jpegFile("ok.jpg", 1024),
		oversized,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Contains(t, err.Error(), "huge.jpg")

	// The valid file must not slip through on its own.
	assert.Equal(t, 0, store.uploads)
	assert.Equal(t, models.DocumentStatusNotUploaded, m.Status(models.DocumentTypeNID))
	assert.Empty(t, m.PendingBatch(models.DocumentTypeNID))
}

func TestFileValidationOrderAndMessages(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	err := m.SelectFiles(ctx, models.DocumentTypeNID, []FilePayload{{OriginalName: "empty.jpg", ContentType: "image/jpeg"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")

	exe := jpegFile("tool.exe", 100)
	exe.ContentType = "application/x-msdownload"
	err = m.SelectFiles(ctx, models.DocumentTypeNID, []FilePayload{exe})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	err = m.SelectFiles(ctx, "passport", []FilePayload{jpegFile("p.jpg", 10)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestFailedBatchIsRetainedAndRetriedVerbatim(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	store.failNext(1, apperrors.New(apperrors.KindNetwork, "connection dropped"))

	batch := []FilePayload{jpegFile("nid_front.jpg", 1024), jpegFile("nid_back.jpg", 2048)}
	err := m.SelectFiles(ctx, models.DocumentTypeNID, batch)
	require.Error(t, err)

	assert.Equal(t, models.DocumentStatusError, m.Status(models.DocumentTypeNID))
	require.NotNil(t, m.LastError(models.DocumentTypeNID))
	assert.Equal(t, apperrors.KindNetwork, m.LastError(models.DocumentTypeNID).Kind)
	assert.True(t, m.LastError(models.DocumentTypeNID).Retryable)
	require.Len(t, m.PendingBatch(models.DocumentTypeNID), 2)

	require.NoError(t, m.Retry(ctx, models.DocumentTypeNID))

	attempts := store.batches[models.DocumentTypeNID]
	require.Len(t, attempts, 2)
	assert.Equal(t, attempts[0], attempts[1])

	assert.Equal(t, models.DocumentStatusUploaded, m.Status(models.DocumentTypeNID))
	assert.Nil(t, m.LastError(models.DocumentTypeNID))
	assert.Empty(t, m.PendingBatch(models.DocumentTypeNID))
}

func TestRetryWithoutFailureIsRefused(t *testing.T) {
	m := newTestManager(newFakeDocStore())

	err := m.Retry(context.Background(), models.DocumentTypeNID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRequiredCompleteExcludesSelfie(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	assert.False(t, m.RequiredComplete())

	// A single required document is not enough.
	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeDriversLicense, []FilePayload{jpegFile("license.jpg", 512)}))
	assert.False(t, m.RequiredComplete())

	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeNID, []FilePayload{jpegFile("nid.jpg", 512)}))
	assert.False(t, m.RequiredComplete())

	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeIncomeProof, []FilePayload{jpegFile("payslip.jpg", 512)}))
	assert.True(t, m.RequiredComplete())

	// The selfie never participates in the gate.
	for _, slot := range m.Slots() {
		if slot.Type == models.DocumentTypeSelfieLiveness {
			assert.False(t, slot.Required)
		}
	}
}

func TestDeleteLastFileReopensSlot(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeNID, []FilePayload{jpegFile("nid.jpg", 512)}))
	assert.False(t, m.RequiredComplete())

	key := fmt.Sprintf("documents/%s/nid.jpg", models.DocumentTypeNID)
	require.NoError(t, m.DeleteFile(ctx, models.DocumentTypeNID, key))

	assert.Equal(t, models.DocumentStatusNotUploaded, m.Status(models.DocumentTypeNID))
	for _, slot := range m.Slots() {
		if slot.Type == models.DocumentTypeNID {
			assert.Empty(t, slot.Files)
		}
	}
}

func TestUploadRequiresApplication(t *testing.T) {
	m := NewManager(newFakeDocStore(), nil)

	err := m.SelectFiles(context.Background(), models.DocumentTypeNID, []FilePayload{jpegFile("nid.jpg", 64)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestDownloadAllBundlesEveryStoredFile(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeNID, []FilePayload{jpegFile("nid.jpg", 256)}))
	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeIncomeProof, []FilePayload{jpegFile("payslip.jpg", 256)}))

	result, err := m.DownloadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Included)
	assert.Equal(t, 0, result.Skipped)

	reader, err := zip.NewReader(bytes.NewReader(result.Data), int64(len(result.Data)))
	require.NoError(t, err)
	assert.Len(t, reader.File, 2)
}

func TestDownloadAllSkipsBrokenFiles(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeNID, []FilePayload{jpegFile("nid.jpg", 256)}))
	require.NoError(t, m.SelectFiles(ctx, models.DocumentTypeIncomeProof, []FilePayload{jpegFile("payslip.jpg", 256)}))

	store.mu.Lock()
	store.brokenKey = fmt.Sprintf("documents/%s/nid.jpg", models.DocumentTypeNID)
	store.mu.Unlock()

	result, err := m.DownloadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Included)
	assert.Equal(t, 1, result.Skipped)
}
