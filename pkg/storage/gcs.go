package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBlobStore writes blobs into a single Google Cloud Storage bucket.
type GCSBlobStore struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
	timeout   time.Duration
}

// NewGCSBlobStore creates a storage client using application default credentials
// unless options say otherwise.
func NewGCSBlobStore(ctx context.Context, bucket, cdnDomain string, opts ...option.ClientOption) (*GCSBlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket, cdnDomain: strings.TrimRight(cdnDomain, "/"), timeout: 2 * time.Minute}, nil
}

// Upload streams r into the bucket under key.
func (s *GCSBlobStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer: %w", err)
	}
	return s.PublicURL(key), nil
}

// Delete removes the object; a missing object is not an error.
func (s *GCSBlobStore) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete GCS object: %w", err)
	}
	return nil
}

// PublicURL renders the object URL, preferring the CDN domain when configured.
func (s *GCSBlobStore) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.cdnDomain != "" {
		domain := s.cdnDomain
		if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
			domain = "https://" + domain
		}
		return domain + "/" + escaped
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, escaped)
}

// Close releases the underlying client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
