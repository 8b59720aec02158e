package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// Bucket stores and probes receipt objects in one bucket. Uploads go through
// the transfer manager so large bodies are split into parts.
type Bucket struct {
	client   *s3.Client
	uploader *manager.Uploader
	name     string
}

// NewBucket binds a Bucket to c's configured bucket.
func NewBucket(c *Client) *Bucket {
	return &Bucket{
		client:   c.S3(),
		uploader: manager.NewUploader(c.S3()),
		name:     c.Bucket(),
	}
}

// Put uploads data to path.
func (b *Bucket) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is stored at path.
func (b *Bucket) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// isNotFound matches the SDK's typed errors and, for S3-compatible stores
// that answer HeadObject with a bare 404, the HTTP status.
func isNotFound(err error) bool {
	var (
		nsk    *types.NoSuchKey
		nf     *types.NotFound
		status interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &status):
		return status.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var (
	_ domain.BlobWriter = (*Bucket)(nil)
	_ ExistsChecker     = (*Bucket)(nil)
)
