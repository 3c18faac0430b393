package s3storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LyricSync/internal/config"
)

func TestPresignTTL(t *testing.T) {
	assert.Equal(t, maxPresignTTL, presignTTL(0))
	assert.Equal(t, maxPresignTTL, presignTTL(30*24*time.Hour))
	assert.Equal(t, time.Hour, presignTTL(time.Hour))
}

// Presigning is computed locally, so no MinIO server is needed.
func TestPresignAudioURL(t *testing.T) {
	s, err := New(&config.Config{
		S3Endpoint:   "localhost:9000",
		S3AccessKey:  "minio",
		S3SecretKey:  "minio123",
		S3Region:     "us-east-1",
		AudioBucket:  "project-audio",
		SignedURLTTL: time.Hour,
	})
	require.NoError(t, err)

	raw, err := s.PresignAudioURL(context.Background(), "alice/p1/song.mp3")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/project-audio/alice/p1/song.mp3"))
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
