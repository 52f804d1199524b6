// internal/services/storage_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelend/onboarding-backend/internal/config"
)

func newLocalStorage(t *testing.T) *StorageService {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{Port: "8080"}}
	svc, err := NewStorageService(cfg)
	require.NoError(t, err)
	return svc
}

func TestLocalStorageRoundTrip(t *testing.T) {
	svc := newLocalStorage(t)

	obj, err := svc.Upload([]byte("license scan"), "license.jpg", "image/jpeg", "documents")
	require.NoError(t, err)
	assert.NotEmpty(t, obj.Key)
	assert.Equal(t, int64(len("license scan")), obj.Size)
	assert.Equal(t, "image/jpeg", obj.MimeType)

	data, err := svc.Download(obj.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("license scan"), data)

	require.NoError(t, svc.Delete(obj.Key))
	_, err = svc.Download(obj.Key)
	assert.Error(t, err)
}

func TestLocalStorageRejectsEmptyFiles(t *testing.T) {
	svc := newLocalStorage(t)

	_, err := svc.Upload(nil, "empty.pdf", "application/pdf", "documents")
	assert.Error(t, err)
}

func TestLocalStorageCannotPresign(t *testing.T) {
	svc := newLocalStorage(t)

	assert.False(t, svc.CanPresign())
	_, err := svc.PresignedURL("documents/whatever.jpg", 0)
	assert.Error(t, err)
}
