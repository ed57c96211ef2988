package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// openBucket opens a bucket URL. file:// URLs may be relative
// (file://./downloads) and their directory is created if missing.
func openBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse bucket url: %w", err)
	}

	if u.Scheme != fileblob.Scheme {
		return blob.OpenBucket(ctx, bucketURL)
	}

	dir := filepath.FromSlash(u.Host + u.Path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	return fileblob.OpenBucket(abs, &fileblob.Options{CreateDir: true})
}
