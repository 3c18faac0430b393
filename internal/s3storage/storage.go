package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/LyricSync/internal/config"
)

// maxPresignTTL is the longest expiry S3 accepts for a presigned URL.
const maxPresignTTL = 7 * 24 * time.Hour

// Storage wraps MinIO/S3 interactions for uploaded audio.
type Storage struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.AudioBucket,
		region: cfg.S3Region,
		ttl:    presignTTL(cfg.SignedURLTTL),
	}, nil
}

// EnsureBuckets makes sure the audio bucket exists before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// UploadAudio uploads a recording into the audio bucket.
func (s *Storage) UploadAudio(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, opts); err != nil {
		return fmt.Errorf("upload audio object: %w", err)
	}
	return nil
}

// PresignAudioURL returns a signed GET URL the inference services can fetch.
func (s *Storage) PresignAudioURL(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign audio object: %w", err)
	}
	return u.String(), nil
}

// Put uploads the recording and returns its presigned URL.
func (s *Storage) Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	if err := s.UploadAudio(ctx, objectKey, reader, size, contentType); err != nil {
		return "", err
	}
	return s.PresignAudioURL(ctx, objectKey)
}

func presignTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > maxPresignTTL {
		return maxPresignTTL
	}
	return ttl
}
