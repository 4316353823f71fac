// Package files stores component attachments in S3-compatible object
// storage and hands presigned URLs to the browser for direct transfer.
package files

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cadence/api/internal/store"
	"cadence/api/internal/util"
)

// Config holds object storage configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AttachmentStore persists attachment metadata rows.
type AttachmentStore interface {
	InsertAttachment(ctx context.Context, att store.Attachment) error
	ListAttachments(ctx context.Context, componentID string) ([]store.Attachment, error)
}

// Service manages attachment uploads and downloads.
type Service struct {
	client *minio.Client
	bucket string
	store  AttachmentStore
}

// NewService connects to object storage and ensures the bucket exists.
func NewService(ctx context.Context, cfg Config, attachments AttachmentStore) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket, store: attachments}, nil
}

// Upload describes a registered attachment plus the URL the client
// uploads the bytes to.
type Upload struct {
	Attachment store.Attachment
	UploadURL  string
}

// RegisterAttachment records attachment metadata and returns a presigned
// PUT URL valid for 15 minutes.
func (s *Service) RegisterAttachment(ctx context.Context, componentID, fileName, contentType string, sizeBytes int64, createdBy string) (*Upload, error) {
	fileName = sanitizeFileName(fileName)
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}

	att := store.Attachment{
		ID:          util.NewID("att"),
		ComponentID: componentID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		CreatedBy:   createdBy,
	}
	att.ObjectKey = path.Join("components", componentID, att.ID+"-"+fileName)

	if err := s.store.InsertAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("register attachment: %w", err)
	}

	uploadURL, err := s.client.PresignedPutObject(ctx, s.bucket, att.ObjectKey, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &Upload{Attachment: att, UploadURL: uploadURL.String()}, nil
}

// DownloadURL returns a presigned GET URL for an attachment's object,
// valid for one hour.
func (s *Service) DownloadURL(ctx context.Context, att store.Attachment) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))

	signed, err := s.client.PresignedGetObject(ctx, s.bucket, att.ObjectKey, time.Hour, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return signed.String(), nil
}

// ListAttachments returns attachment metadata for a component.
func (s *Service) ListAttachments(ctx context.Context, componentID string) ([]store.Attachment, error) {
	return s.store.ListAttachments(ctx, componentID)
}

// RemoveObject deletes the stored bytes for an attachment.
func (s *Service) RemoveObject(ctx context.Context, att store.Attachment) error {
	if err := s.client.RemoveObject(ctx, s.bucket, att.ObjectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(path.Base(name))
	name = strings.ReplaceAll(name, "..", "")
	return name
}
