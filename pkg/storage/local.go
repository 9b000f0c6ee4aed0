package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalBlobStore persists blobs on disk under a base directory and serves
// them back through signed, expiring URLs.
type LocalBlobStore struct {
	baseDir string
	baseURL string
	signer  *SignedURLSigner
}

// NewLocalBlobStore ensures the base directory exists and returns a handle.
func NewLocalBlobStore(baseDir, baseURL string, signer *SignedURLSigner) (*LocalBlobStore, error) {
	if baseDir == "" {
		baseDir = "./blobs"
	}
	if signer == nil {
		return nil, fmt.Errorf("signer required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalBlobStore{baseDir: baseDir, baseURL: baseURL, signer: signer}, nil
}

// Upload copies r into the file addressed by key and returns a signed URL for it.
func (s *LocalBlobStore) Upload(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare blob directory: %w", err)
	}
	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write blob stream: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close blob file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob file: %w", err)
	}

	token, _, err := s.signer.Generate(key)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + token, nil
}

// Delete removes a stored blob if present.
func (s *LocalBlobStore) Delete(_ context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.resolve(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

// Open resolves a signed token and returns a read handle plus the object key.
func (s *LocalBlobStore) Open(token string) (*os.File, string, error) {
	key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", err
	}
	key, err = CleanKey(key)
	if err != nil {
		return nil, "", err
	}
	file, err := os.Open(s.resolve(key))
	if err != nil {
		return nil, "", fmt.Errorf("open blob file: %w", err)
	}
	return file, key, nil
}

func (s *LocalBlobStore) resolve(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}
