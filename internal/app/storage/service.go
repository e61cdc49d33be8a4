/*
Package storage stores chat image attachments in S3-compatible object storage.
*/
package storage

import (
	"context"
	"io"
	"time"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// StorageService is the object-storage surface the handlers need.
type StorageService interface {
	// Upload streams body to key with the given content type.
	Upload(ctx context.Context, key string, mimeType string, body io.Reader) error

	// PresignDownload returns a time-limited GET URL for key.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Delete removes key. Used to roll back an upload whose message insert failed.
	Delete(ctx context.Context, key string) error
}

// NewStorageService returns the S3-backed implementation.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	return newS3Client(ctx, cfg)
}
