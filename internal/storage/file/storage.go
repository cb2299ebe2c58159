// Package file provides the sinks finished images are exported to and the
// sources inbound files are loaded from.
package file

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/imgshift/internal/model"
)

// Storage is implemented by MinIO and Local.
type Storage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// MinIO provides an S3-compatible storage backend.
// It stores files in a specified bucket under different subdirectories.
type MinIO struct {
	client     *minio.Client
	bucketName string
}

// NewMinIO creates a new MinIO instance connected to the specified server.
// If the bucket does not exist, it will be created automatically.
func NewMinIO(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIO, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIO{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads src to subdir in the bucket and returns the object name.
func (s *MinIO) Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error) {
	objectName := path.Join(subdir, filename)

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, src, -1, minio.PutObjectOptions{
		ContentType: ContentType(filename),
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return objectName, nil
}

// Load retrieves an object and returns a reader.
func (s *MinIO) Load(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	return obj, nil
}

// Delete removes an object from the bucket.
func (s *MinIO) Delete(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
}

// ContentType maps a file name to the MIME type of its extension.
func ContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".jpg", ".jpeg":
		return model.MimeJPEG
	case ".png":
		return model.MimePNG
	case ".apng":
		return model.MimeAPNG
	case ".webp":
		return model.MimeWebP
	case ".gif":
		return model.MimeGIF
	case ".heic":
		return model.MimeHEIC
	case ".heif":
		return model.MimeHEIF
	default:
		return "application/octet-stream"
	}
}
