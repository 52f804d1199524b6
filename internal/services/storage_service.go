// internal/services/storage_service.go
package services

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drivelend/onboarding-backend/internal/config"
)

// StorageService stores document bytes in S3, keyed by a generated unique
// filename. Without AWS credentials it falls back to an in-memory store so
// local development and tests work end to end.
type StorageService struct {
	s3Client *s3.S3
	config   *config.Config

	mu    sync.Mutex
	local map[string][]byte
}

type StoredObject struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

func NewStorageService(cfg *config.Config) (*StorageService, error) {
	if cfg.AWS.AccessKeyID == "" {
		// Local development fallback, no S3.
		return &StorageService{config: cfg, local: make(map[string][]byte)}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

// Upload stores one file's bytes and returns its storage key and URL.
func (s *StorageService) Upload(data []byte, originalName, contentType, folder string) (*StoredObject, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %q", originalName)
	}

	key := s.generateKey(originalName, folder)

	if s.s3Client == nil {
		s.mu.Lock()
		s.local[key] = append([]byte(nil), data...)
		s.mu.Unlock()

		return &StoredObject{
			Key:      key,
			URL:      fmt.Sprintf("http://localhost:%s/uploads/%s", s.config.Server.Port, key),
			Size:     int64(len(data)),
			MimeType: contentType,
		}, nil
	}

	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &StoredObject{
		Key:      key,
		URL:      s.objectURL(key),
		Size:     int64(len(data)),
		MimeType: contentType,
	}, nil
}

// Download fetches the stored bytes for a key.
func (s *StorageService) Download(key string) ([]byte, error) {
	if s.s3Client == nil {
		s.mu.Lock()
		data, ok := s.local[key]
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("object %q not found", key)
		}
		return data, nil
	}

	out, err := s.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *StorageService) Delete(key string) error {
	if s.s3Client == nil {
		s.mu.Lock()
		delete(s.local, key)
		s.mu.Unlock()
		logrus.WithField("key", key).Debug("deleted local object")
		return nil
	}

	_, err := s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	return nil
}

// CanPresign reports whether direct download links can be issued. The local
// fallback cannot; its objects are only reachable through Download.
func (s *StorageService) CanPresign() bool {
	return s.s3Client != nil
}

// PresignedURL returns a time-limited download URL for a stored object.
func (s *StorageService) PresignedURL(key string, expiration time.Duration) (string, error) {
	if s.s3Client == nil {
		return "", fmt.Errorf("S3 client not configured")
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url, nil
}

func (s *StorageService) generateKey(originalName, folder string) string {
	id := uuid.New()
	ext := filepath.Ext(originalName)
	timestamp := time.Now().Format("20060102")
	filename := fmt.Sprintf("%s_%s%s", timestamp, id.String()[:8], ext)

	if folder != "" {
		return fmt.Sprintf("%s/%s", folder, filename)
	}

	return filename
}

func (s *StorageService) objectURL(key string) string {
	if s.config.AWS.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", s.config.AWS.CloudFrontURL, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.AWS.S3Bucket, s.config.AWS.Region, key)
}
