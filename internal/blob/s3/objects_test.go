package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	rooted := &Client{root: "mainnet"}
	assert.Equal(t, "mainnet/archive/audit/2026-03.jsonl", rooted.objectKey("archive/audit/2026-03.jsonl"))
	assert.Equal(t, "mainnet/archive", rooted.objectKey("/archive"))
	assert.Equal(t, "archive/audit/2026-03.jsonl", rooted.relative("mainnet/archive/audit/2026-03.jsonl"))

	bare := &Client{}
	assert.Equal(t, "snapshots/sovereigns/x.jsonl", bare.objectKey("snapshots/sovereigns/x.jsonl"))
	assert.Equal(t, "snapshots/sovereigns/x.jsonl", bare.relative("snapshots/sovereigns/x.jsonl"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/x-ndjson", contentTypeFor("archive/events/2026-03.jsonl"))
	assert.Equal(t, "application/json", contentTypeFor("manifest.json"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("blob"))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.False(t, isNotFound(errors.New("connection reset")))
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &smithy.GenericAPIError{Code: "NoSuchKey"})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", withScheme("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", withScheme("minio:9000", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
}
