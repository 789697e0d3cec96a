package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/13rac1/sqpurge/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrArchiveNotConfigured is returned when an archive client is requested without a bucket.
var ErrArchiveNotConfigured = errors.New("archive.bucket is not configured")

// NewArchiveClient creates an S3 client for the report archive bucket.
// Authentication priority: static credentials > AWS profile > default credential chain.
func NewArchiveClient(ctx context.Context, cfg *types.Config) (*s3.Client, error) {
	if cfg.Archive.Bucket == "" {
		return nil, ErrArchiveNotConfigured
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Archive.Region),
		config.WithRetryMaxAttempts(3),
		config.WithRetryMode(aws.RetryModeStandard),
	}

	switch {
	case cfg.Auth.AccessKeyID != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Auth.AccessKeyID,
				cfg.Auth.SecretAccessKey,
				cfg.Auth.SessionToken,
			),
		))
	case cfg.Auth.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(cfg.Auth.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	// MinIO, Backblaze B2 and friends need a custom endpoint and usually path-style addressing.
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.ForcePathStyle
	}), nil
}
