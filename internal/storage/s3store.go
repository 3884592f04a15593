// Package storage persists report result artifacts in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Default timeouts for S3 operations.
const (
	DefaultMetadataTimeout = 10 * time.Second // Stat, Delete, BucketExists operations
	DefaultDataTimeout     = 60 * time.Second // Get, Put operations (data transfer)
)

// S3Config holds connection and timeout settings for S3 storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// MetadataTimeout is the context timeout for metadata operations
	// (stat, delete). Defaults to 10s if zero.
	MetadataTimeout time.Duration

	// DataTimeout is the context timeout for data-transfer operations
	// (get, put). Defaults to 60s if zero.
	DataTimeout time.Duration
}

// S3Store reads and writes report result artifacts in a single bucket.
// Artifact paths are chosen by the runner; the store treats them as opaque keys.
type S3Store struct {
	client          *minio.Client
	bucket          string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

// NewS3Store creates an S3Store connected to the given endpoint.
// It auto-creates the bucket if it doesn't exist.
func NewS3Store(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Store, error) {
	return NewS3StoreFromConfig(ctx, S3Config{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		UseSSL:    useSSL,
	})
}

// NewS3StoreFromConfig creates an S3Store with explicit timeout configuration.
// It configures the underlying HTTP transport with connection and TLS timeouts,
// and applies per-operation context timeouts to all S3 calls.
func NewS3StoreFromConfig(ctx context.Context, cfg S3Config) (*S3Store, error) {
	metadataTimeout := cfg.MetadataTimeout
	if metadataTimeout == 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	dataTimeout := cfg.DataTimeout
	if dataTimeout == 0 {
		dataTimeout = DefaultDataTimeout
	}

	// Custom transport with explicit dial and TLS timeouts.
	// ResponseHeaderTimeout is set to the metadata timeout — it bounds the
	// time waiting for the server to start replying, not the full download.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: metadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &S3Store{
		client:          client,
		bucket:          cfg.Bucket,
		metadataTimeout: metadataTimeout,
		dataTimeout:     dataTimeout,
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *S3Store) withMetadataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.metadataTimeout)
}

func (s *S3Store) withDataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.dataTimeout)
}

// ensureBucket creates the bucket if it doesn't already exist.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// WriteResult stores a result artifact under the given path, overwriting any
// previous object at that key.
func (s *S3Store) WriteResult(ctx context.Context, path, contentType string, data []byte) error {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, path, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put result %s: %w", path, err)
	}
	return nil
}

// ReadResult reads a result artifact and its content type.
// Returns nil data and no error if the object does not exist.
func (s *S3Store) ReadResult(ctx context.Context, path string) ([]byte, string, error) {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get result %s: %w", path, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("stat result %s: %w", path, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read result %s: %w", path, err)
	}

	return data, info.ContentType, nil
}

// DeleteResult removes a result artifact. Deleting a missing object is not
// an error.
func (s *S3Store) DeleteResult(ctx context.Context, path string) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete result %s: %w", path, err)
	}
	return nil
}
