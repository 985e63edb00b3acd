package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Kind selects the storage backend.
type Kind string

const (
	KindFS  Kind = "fs"
	KindS3  Kind = "s3"
	KindGCS Kind = "gcs"
)

// Config selects and configures a Store.
type Config struct {
	Kind     Kind   `yaml:"kind"`
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// ConfigFromEnv reads BRIEFGATE_ARTIFACT_* variables:
//
//   - BRIEFGATE_ARTIFACT_STORE: "fs" (default), "s3" or "gcs"
//   - BRIEFGATE_ARTIFACT_DIR: directory for fs (default "data/artifacts")
//   - BRIEFGATE_ARTIFACT_BUCKET, BRIEFGATE_ARTIFACT_PREFIX
//   - BRIEFGATE_ARTIFACT_REGION (falls back to AWS_REGION)
//   - BRIEFGATE_ARTIFACT_ENDPOINT for MinIO or LocalStack
func ConfigFromEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Config{
		Kind:     Kind(getenv("BRIEFGATE_ARTIFACT_STORE")),
		Dir:      getenv("BRIEFGATE_ARTIFACT_DIR"),
		Bucket:   getenv("BRIEFGATE_ARTIFACT_BUCKET"),
		Region:   getenv("BRIEFGATE_ARTIFACT_REGION"),
		Endpoint: getenv("BRIEFGATE_ARTIFACT_ENDPOINT"),
		Prefix:   getenv("BRIEFGATE_ARTIFACT_PREFIX"),
	}
	if cfg.Region == "" {
		cfg.Region = getenv("AWS_REGION")
	}
	return cfg
}

// New builds the configured Store.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindFS:
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join("data", "artifacts")
		}
		return NewFileStore(dir)
	case KindS3:
		if cfg.Bucket == "" {
			return nil, errors.New("artifact bucket is required for s3 storage")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case KindGCS:
		if cfg.Bucket == "" {
			return nil, errors.New("artifact bucket is required for gcs storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact storage kind: %s", cfg.Kind)
	}
}
