// Package exportfile opens finished export results from HTTP(S), S3 or the
// local filesystem.
package exportfile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Opener implements export.Opener.
type Opener struct {
	http   *http.Client
	s3     s3iface.S3API
	logger *zap.Logger
}

// New creates an Opener. s3api may be nil, in which case s3:// locations fail.
func New(httpClient *http.Client, s3api s3iface.S3API, logger *zap.Logger) *Opener {
	if httpClient == nil {
		// No overall timeout: result files can take long to stream.
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{http: httpClient, s3: s3api, logger: logger}
}

// NewS3 creates an S3 client using the default credential chain.
func NewS3(region string) (s3iface.S3API, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return s3.New(sess), nil
}

// Open streams location. The caller closes the result.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse export location: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return o.openHTTP(ctx, location)
	case "s3":
		return o.openS3(ctx, u)
	case "file":
		return o.openFile(u.Path)
	case "":
		return o.openFile(location)
	default:
		return nil, fmt.Errorf("%w: unsupported export location scheme %q", domain.ErrInvalidConfig, u.Scheme)
	}
}

func (o *Opener) openHTTP(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download export: HTTP %d", resp.StatusCode)
	}
	o.logger.Debug("Export download started", zap.Int64("content_length", resp.ContentLength))
	return resp.Body, nil
}

func (o *Opener) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if o.s3 == nil {
		return nil, fmt.Errorf("%w: s3 location without an s3 client", domain.ErrInvalidConfig)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 location needs bucket and key: %s", domain.ErrInvalidConfig, u)
	}
	out, err := o.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	o.logger.Debug("Export download started",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("content_length", aws.Int64Value(out.ContentLength)),
	)
	return out.Body, nil
}

func (o *Opener) openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return f, nil
}
