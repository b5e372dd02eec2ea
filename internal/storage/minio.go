package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"server/internal/domain"
)

// MinioStore re-hosts ephemeral provider artifacts in a MinIO/S3 bucket.
// Provider URLs expire shortly after generation, so every artifact the
// workflow keeps must pass through here first.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
	httpClient *http.Client
}

// MinioOptions configures the store. PublicBase, when set, is used to build
// returned URLs (a CDN or reverse-proxied endpoint); otherwise presigned GET
// URLs with a 7 day expiry are returned.
type MinioOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string
	HTTPClient *http.Client
}

func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("storage: minio endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &MinioStore{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBase, "/"),
		httpClient: httpClient,
	}, nil
}

// EnsureBucket creates the bucket when missing. Called once at startup.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: bucket check: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: make bucket: %w", err)
	}
	return nil
}

// PutBytes uploads data under key and returns the durable URL.
func (s *MinioStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	return s.urlFor(ctx, key)
}

// PutURL downloads sourceURL and re-uploads it under key.
func (s *MinioStore) PutURL(ctx context.Context, key string, sourceURL string) (string, error) {
	data, contentType, err := download(ctx, s.httpClient, sourceURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	return s.PutBytes(ctx, key, data, contentType)
}

// Fetch reads back an object by its durable URL or any HTTP URL.
func (s *MinioStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, _, err := download(ctx, s.httpClient, rawURL)
	return data, err
}

func (s *MinioStore) urlFor(ctx context.Context, key string) (string, error) {
	if s.publicBase != "" {
		return s.publicBase + "/" + s.bucket + "/" + key, nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, 7*24*time.Hour, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return presigned.String(), nil
}

func download(ctx context.Context, client *http.Client, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("storage: read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

var _ domain.ObjectStore = (*MinioStore)(nil)
