package runes

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileUploader streams result files to the storage bucket via pre-signed
// URLs issued by the identity service. Public file URLs are the bucket
// prefix plus the filename.
type FileUploader struct {
	api       *APIClient
	bucketURL string
	client    *http.Client
}

// NewFileUploader creates an uploader backed by the given API client and
// public bucket prefix.
func NewFileUploader(api *APIClient, bucketURL string) *FileUploader {
	return &FileUploader{
		api:       api,
		bucketURL: strings.TrimRight(bucketURL, "/"),
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload pushes a local file to storage and returns its public URL
func (u *FileUploader) Upload(ctx context.Context, path, token, contentType string) (string, error) {
	filename := filepath.Base(path)

	signedURL, err := u.api.SignedUploadURL(ctx, token, filename)
	if err != nil {
		return "", err
	}

	if err := u.putFile(ctx, signedURL, path, contentType); err != nil {
		return "", err
	}

	return u.bucketURL + "/" + filename, nil
}

func (u *FileUploader) putFile(ctx context.Context, signedURL, path, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for upload: %w", path, err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, file)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	info, err := file.Stat()
	if err == nil {
		req.ContentLength = info.Size()
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return &ServiceError{Operation: "upload file", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{Operation: "upload file", StatusCode: resp.StatusCode}
	}
	return nil
}
