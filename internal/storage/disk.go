package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dharsanguruparan/LyricSync/internal/signing"
)

// ErrInvalidKey rejects object keys that would escape the storage root.
var ErrInvalidKey = errors.New("invalid object key")

// DiskAudioStore writes uploaded audio under a root directory and hands out
// HMAC-signed URLs served by the API's /media route.
type DiskAudioStore struct {
	root    string
	baseURL string
	signer  *signing.Signer
	ttl     time.Duration
	now     func() time.Time
}

// NewDiskAudioStore creates the root directory if needed.
func NewDiskAudioStore(root, baseURL string, signer *signing.Signer, ttl time.Duration) (*DiskAudioStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &DiskAudioStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Put streams r to disk and returns a signed URL for it.
func (d *DiskAudioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	path, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	written, err := io.Copy(dst, r)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return d.SignedURL(key), nil
}

// SignedURL builds a time-limited download URL for key.
func (d *DiskAudioStore) SignedURL(key string) string {
	return d.baseURL + "/media/" + key + "?" + d.signer.Query(key, d.now().Add(d.ttl)).Encode()
}

// Open validates the signature and expiry and opens the stored file.
func (d *DiskAudioStore) Open(key, expires, signature string) (*os.File, error) {
	if err := d.signer.Verify(key, expires, signature, d.now()); err != nil {
		return nil, err
	}
	path, err := d.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (d *DiskAudioStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return filepath.Join(d.root, clean), nil
}
