package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a Google Cloud Storage bucket. A non-empty
// endpoint targets an emulator without authentication.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(ctx context.Context, bucket, prefix, endpoint string) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("missing gcs bucket name")
	}

	var opts []option.ClientOption
	if endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/"); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint+"/storage/v1/"), option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (g *GCSStore) objectName(p string) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if g.prefix == "" {
		return key, nil
	}
	return g.prefix + "/" + key, nil
}

func (g *GCSStore) Put(ctx context.Context, p string, data []byte) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	name, _ := g.objectName(key)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentTypeForPath(name)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return key, nil
}

func (g *GCSStore) Get(ctx context.Context, p string) ([]byte, error) {
	name, err := g.objectName(p)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %q: %w", name, err)
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}

func (g *GCSStore) Delete(ctx context.Context, p string) (DeleteResult, error) {
	name, err := g.objectName(p)
	if err != nil {
		return Deleted, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := g.client.Bucket(g.bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return NotFound, nil
		}
		return Deleted, fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", name, g.bucket, err)
	}
	return Deleted, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}
