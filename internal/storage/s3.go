package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultSignedURLTTL = 60 * time.Second

// S3GatewayOptions configures an object-store gateway against S3 or any
// minio-compatible endpoint.
type S3GatewayOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// HTTPClient performs the presigned fetches in ReadFresh; nil uses a
	// client with a 15s timeout.
	HTTPClient *http.Client
}

// S3Gateway stores objects in a bucket. ReadFresh bypasses intermediate
// caches by fetching through a short-lived presigned URL with caching
// disabled, which is also the mechanism behind SignedReadURL.
type S3Gateway struct {
	client     *minio.Client
	bucket     string
	httpClient *http.Client
}

func NewS3Gateway(opts S3GatewayOptions) (*S3Gateway, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &S3Gateway{client: client, bucket: bucket, httpClient: httpClient}, nil
}

func (g *S3Gateway) Read(ctx context.Context, path string) ([]byte, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	obj, err := g.client.GetObject(ctx, g.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(err, path)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyS3Error(err, path)
	}
	return data, nil
}

func (g *S3Gateway) ReadFresh(ctx context.Context, path string) ([]byte, error) {
	signed, err := g.SignedReadURL(ctx, path, defaultSignedURLTTL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, path)
	case RetryableStatus(resp.StatusCode):
		return nil, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("presigned read of %s", path)}
	default:
		return nil, fmt.Errorf("presigned read of %s: http %d", path, resp.StatusCode)
	}
}

func (g *S3Gateway) CreateIfAbsent(ctx context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	_, err = g.client.StatObject(ctx, g.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if classified := classifyS3Error(err, path); !errors.Is(classified, ErrNotFound) {
		return classified
	}
	return g.put(ctx, path, data)
}

func (g *S3Gateway) Replace(ctx context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if _, err := g.client.StatObject(ctx, g.bucket, path, minio.StatObjectOptions{}); err != nil {
		return classifyS3Error(err, path)
	}
	return g.put(ctx, path, data)
}

func (g *S3Gateway) put(ctx context.Context, path string, data []byte) error {
	_, err := g.client.PutObject(ctx, g.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return classifyS3Error(err, path)
	}
	return nil
}

func (g *S3Gateway) Delete(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if _, err := g.client.StatObject(ctx, g.bucket, path, minio.StatObjectOptions{}); err != nil {
		return classifyS3Error(err, path)
	}
	if err := g.client.RemoveObject(ctx, g.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return classifyS3Error(err, path)
	}
	return nil
}

func (g *S3Gateway) List(ctx context.Context, prefix string, opts ListOptions) ([]Entry, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	var entries []Entry
	for info := range g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, classifyS3Error(info.Err, prefix)
		}
		entries = append(entries, Entry{Name: info.Key, LastModified: info.LastModified})
	}
	// ListObjects yields keys in lexical order; only resort when the
	// caller asked for recency.
	if opts.NewestFirst {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].LastModified.Equal(entries[j].LastModified) {
				return entries[i].LastModified.After(entries[j].LastModified)
			}
			return entries[i].Name < entries[j].Name
		})
	}
	return capEntries(entries, opts), nil
}

func (g *S3Gateway) SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	path, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	signed, err := g.client.PresignedGetObject(ctx, g.bucket, path, ttl, url.Values{})
	if err != nil {
		return "", classifyS3Error(err, path)
	}
	return signed.String(), nil
}

func (g *S3Gateway) Close() error {
	return nil
}

func classifyS3Error(err error, path string) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, path)
	case resp.StatusCode != 0 && RetryableStatus(resp.StatusCode):
		return &TransientError{Status: resp.StatusCode, Err: err}
	case resp.StatusCode == 0:
		// No HTTP response at all means the request never completed.
		return &TransientError{Err: err}
	default:
		return err
	}
}
