// Package s3blob archives ledger history (audit log, event stream, sovereign
// snapshots) to S3 or an S3-compatible store such as MinIO or R2.
package s3blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ClientConfig holds the configuration for connecting to an object store.
type ClientConfig struct {
	// Endpoint is an S3-compatible endpoint URL. Empty means AWS S3.
	Endpoint string

	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	// UseSSL picks the scheme for an Endpoint given without one.
	UseSSL bool

	// ForcePathStyle puts the bucket in the path, as MinIO requires.
	ForcePathStyle bool

	// Prefix roots every object key so several deployments can share a
	// bucket.
	Prefix string

	// SSE is "", "AES256" or "aws:kms".
	SSE string
}

// Client is an object store rooted at Bucket/Prefix. Paths handed to its
// methods are relative to that root and come back relative from List.
type Client struct {
	s3     *s3.Client
	bucket string
	root   string
	sse    types.ServerSideEncryption
}

// New builds a client with static credentials when AccessKey is set and
// the default AWS chain (env, shared config, instance role) otherwise.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		root:   strings.Trim(cfg.Prefix, "/"),
		sse:    types.ServerSideEncryption(cfg.SSE),
	}, nil
}

// Health issues HeadBucket. It is the /api/health probe for archiving.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// objectKey maps a root-relative path to the bucket key.
func (c *Client) objectKey(p string) string {
	p = strings.TrimPrefix(p, "/")
	if c.root == "" {
		return p
	}
	return path.Join(c.root, p)
}

// relative is the inverse of objectKey.
func (c *Client) relative(key string) string {
	if c.root == "" {
		return key
	}
	return strings.TrimPrefix(key, c.root+"/")
}

func withScheme(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
