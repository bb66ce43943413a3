package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// minPartSize is the S3 multipart minimum.
const minPartSize int64 = 5 * 1024 * 1024

// uploadConcurrency bounds parallel parts per multipart upload.
const uploadConcurrency = 3

// writerMeta tags every object this daemon writes.
var writerMeta = map[string]string{"writer": "sovereignd"}

var (
	_ domain.BlobWriter = (*Client)(nil)
	_ domain.BlobReader = (*Client)(nil)
)

// Put uploads data in one PutObject request. An empty contentType is
// derived from the path's extension.
func (c *Client) Put(ctx context.Context, p string, data io.Reader, contentType string) error {
	if contentType == "" {
		contentType = contentTypeFor(p)
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.objectKey(p)),
		Body:        data,
		ContentType: aws.String(contentType),
		Metadata:    writerMeta,
	}
	if c.sse != "" {
		in.ServerSideEncryption = c.sse
	}
	if _, err := c.s3.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", p, err)
	}
	return nil
}

// PutMultipart streams data through the multipart uploader. partSize is
// raised to the S3 minimum. Large sovereign snapshots go this way.
func (c *Client) PutMultipart(ctx context.Context, p string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = uploadConcurrency
	})
	in := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.objectKey(p)),
		Body:        data,
		ContentType: aws.String(contentTypeFor(p)),
		Metadata:    writerMeta,
	}
	if c.sse != "" {
		in.ServerSideEncryption = c.sse
	}
	if _, err := uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", p, err)
	}
	return nil
}

// Get returns the object body, which the caller must close, or
// domain.ErrNotFound.
func (c *Client) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(p)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3blob: get %s: %w", p, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", p, err)
	}
	return out.Body, nil
}

// List returns every object under prefix, following pagination. Paths are
// relative to the client's root.
func (c *Client) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.objectKey(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			rel := c.relative(aws.ToString(obj.Key))
			infos = append(infos, domain.BlobInfo{
				Path:         rel,
				Size:         aws.ToInt64(obj.Size),
				ContentType:  contentTypeFor(rel),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return infos, nil
}

// Exists issues HeadObject. The archiver uses it to skip months already
// uploaded.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(p)),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", p, err)
	}
}

// isNotFound matches NoSuchKey from GetObject, the bare NotFound HeadObject
// returns, and plain 404s from S3-compatible providers.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

func contentTypeFor(p string) string {
	switch path.Ext(p) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
