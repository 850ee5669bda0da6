// Package lode persists event images and delivery outcomes through Lode
// stores (filesystem, S3 or memory).
package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Backend names a storage backend.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendS3     Backend = "s3"
	BackendMemory Backend = "memory"
)

// StorageConfig selects and configures a backend.
type StorageConfig struct {
	Backend Backend
	// Path is the root directory for fs, or "bucket/prefix" for s3.
	Path string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint for S3-compatible providers
	// (MinIO, R2). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that the backend is known and has a path.
func (c StorageConfig) Validate() error {
	switch c.Backend {
	case BackendFS, BackendS3:
		if c.Path == "" {
			return fmt.Errorf("%s storage requires a path", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q (want fs, s3 or memory)", c.Backend)
	}
	if c.Backend == BackendS3 {
		if bucket, _ := ParseS3Path(c.Path); bucket == "" {
			return errors.New("S3 bucket is required")
		}
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// NewStoreFactory builds a store factory for cfg. Memory factories share
// a single store so that writers and readers see the same data.
func NewStoreFactory(ctx context.Context, cfg StorageConfig) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendFS:
		return lode.NewFSFactory(cfg.Path), nil
	case BackendMemory:
		store := lode.NewMemory()
		return func() (lode.Store, error) { return store, nil }, nil
	default:
		return newS3Factory(ctx, cfg)
	}
}

// newS3Factory uses the AWS SDK default credential chain (env vars,
// shared config, IAM role).
func newS3Factory(ctx context.Context, cfg StorageConfig) (lode.StoreFactory, error) {
	bucket, prefix := ParseS3Path(cfg.Path)

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("load AWS config: %w", err), bucket)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: bucket,
			Prefix: prefix,
		})
	}, nil
}
