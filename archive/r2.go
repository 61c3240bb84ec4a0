// Package archive uploads finished match results to S3-compatible object
// storage (Cloudflare R2 in production).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appconfig "lane-battle/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrNoBucket = errors.New("archive bucket not configured")

type Store struct {
	client *s3.Client
	bucket string
}

// New builds a store for cfg. Without an explicit endpoint the Cloudflare R2
// endpoint of the account is used.
func New(ctx context.Context, cfg appconfig.ArchiveConfig) (*Store, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBucket
	}
	endpoint, err := Endpoint(cfg)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		// R2 rejects the default flexible checksum headers
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func Endpoint(cfg appconfig.ArchiveConfig) (string, error) {
	if cfg.Endpoint != "" {
		return cfg.Endpoint, nil
	}
	if cfg.AccountID == "" {
		return "", errors.New("archive endpoint or CLOUDFLARE_ACCOUNT_ID required")
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID), nil
}

// PutJSON uploads v as a JSON object under key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
