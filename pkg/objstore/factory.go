package objstore

import (
	"context"
	"fmt"
)

// Backend selects the storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Config drives the factory. Only the fields for the selected backend
// need to be set.
type Config struct {
	Backend Backend

	// fs
	Root string

	// s3
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
	AccessKey string
	SecretKey string
}

// New constructs the configured backend. The GCS backend requires the
// gcp build tag; without it the factory returns an error.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS, "":
		root := cfg.Root
		if root == "" {
			root = "./artifacts"
		}
		return NewFileStore(root)
	case BackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("objstore: s3 backend requires a bucket")
		}
		return NewS3Store(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			Prefix:    cfg.Prefix,
			PathStyle: cfg.PathStyle,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	case BackendGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("objstore: gcs backend requires a bucket")
		}
		return newGCS(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("objstore: unknown backend %q", cfg.Backend)
	}
}
