package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/amillerrr/lms-catalog/internal/metrics"
)

// Default timeout for s3 delete operations
const DefaultS3Timeout = 30 * time.Second

// Blob folders
const (
	FolderVideos     = "videos"
	FolderNotes      = "notes"
	FolderThumbnails = "thumbnails"
)

// S3API defines the S3 operations used by the blob store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Blob identifies a stored object.
type Blob struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// BlobStore uploads and deletes files in a single S3 bucket.
type BlobStore struct {
	client    S3API
	bucket    string
	region    string
	cdnDomain string
}

// NewBlobStore creates a BlobStore. When cdnDomain is set, public URLs point at it.
func NewBlobStore(client S3API, bucket, region, cdnDomain string) *BlobStore {
	return &BlobStore{
		client:    client,
		bucket:    bucket,
		region:    region,
		cdnDomain: cdnDomain,
	}
}

// Upload stores body under a fresh key in folder and returns its key and URL.
func (b *BlobStore) Upload(ctx context.Context, body io.Reader, size int64, filename, contentType, folder string) (*Blob, error) {
	key := GenerateKey(filename, folder)
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	metrics.BlobUploadDuration.WithLabelValues(folder).Observe(time.Since(start).Seconds())

	return &Blob{Key: key, URL: b.URL(key)}, nil
}

// Delete removes the object stored under key.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL of key.
func (b *BlobStore) URL(key string) string {
	if b.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", b.cdnDomain, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key)
}

// GenerateKey returns folder/<random hex><ext> for filename.
func GenerateKey(filename, folder string) string {
	if folder == "" {
		folder = FolderVideos
	}
	id := uuid.New()
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%s%s", folder, hex.EncodeToString(id[:]), ext)
}
