// Package dynamo is the keyed-store driver: batched upserts and paginated
// scans over a single DynamoDB table.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/db"
	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/retry"
)

// MaxBatchItems is the BatchWriteItem request limit.
const MaxBatchItems = 25

// Item is one raw DynamoDB item.
type Item = map[string]*dynamodb.AttributeValue

// Config holds connection settings.
type Config struct {
	Region          string
	Endpoint        string // optional, e.g. DynamoDB Local
	Table           string
	AccessKeyID     string // optional, default credential chain when empty
	SecretAccessKey string
	Retry           retry.Policy
}

// Client writes and scans one table.
type Client struct {
	api    dynamodbiface.DynamoDBAPI
	table  string
	retry  retry.Policy
	logger *zap.Logger
}

// New creates a session and client from cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamo: table is required: %w", domain.ErrInvalidConfig)
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewWithAPI(dynamodb.New(sess), cfg.Table, cfg.Retry, logger), nil
}

// NewWithAPI wraps an existing DynamoDB API, mainly for tests.
func NewWithAPI(api dynamodbiface.DynamoDBAPI, table string, policy retry.Policy, logger *zap.Logger) *Client {
	if policy.MaxAttempts <= 0 {
		policy = retry.Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, table: table, retry: policy, logger: logger}
}

// Table returns the table name.
func (c *Client) Table() string { return c.table }

// Ping checks that the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.table),
	})
	if err != nil {
		return &db.Error{Op: db.OpDescribeTable, Err: err}
	}
	return nil
}

// PutBatch upserts items in BatchWriteItem chunks. Unprocessed items and
// throttling are retried with the client policy; running out of attempts
// yields domain.ErrWriteExhausted.
func (c *Client) PutBatch(ctx context.Context, items []Item) error {
	for start := 0; start < len(items); start += MaxBatchItems {
		end := min(start+MaxBatchItems, len(items))
		reqs := make([]*dynamodb.WriteRequest, 0, end-start)
		for _, it := range items[start:end] {
			reqs = append(reqs, &dynamodb.WriteRequest{PutRequest: &dynamodb.PutRequest{Item: it}})
		}
		if err := c.writeChunk(ctx, reqs); err != nil {
			return err
		}
	}
	return nil
}

var errUnprocessed = errors.New("unprocessed items left")

func (c *Client) writeChunk(ctx context.Context, reqs []*dynamodb.WriteRequest) error {
	pending := reqs
	permanent := false
	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		out, err := c.api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{c.table: pending},
		})
		if err != nil {
			wrapped := &db.Error{Op: db.OpBatchWriteItem, Err: err}
			if !retryable(err) {
				permanent = true
				return retry.Permanent(wrapped)
			}
			c.logger.Debug("Batch write throttled", zap.Int("attempt", attempt), zap.Error(err))
			return wrapped
		}

		left := out.UnprocessedItems[c.table]
		if len(left) == 0 {
			return nil
		}
		c.logger.Debug("Retrying unprocessed items",
			zap.Int("attempt", attempt),
			zap.Int("unprocessed", len(left)),
		)
		pending = left
		return fmt.Errorf("%w: %d of %d", errUnprocessed, len(left), len(reqs))
	})
	if err == nil {
		return nil
	}
	if permanent || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrWriteExhausted, err)
}

func retryable(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeInternalServerError, request.ErrCodeRequestError, "ServiceUnavailable":
		return true
	}
	return request.IsErrorThrottle(err)
}

// ScanRequest narrows a scan. Names and Values back the expressions.
type ScanRequest struct {
	Filter     string
	Projection string
	Names      map[string]*string
	Values     map[string]*dynamodb.AttributeValue
	PageSize   int64
}

// Scan walks every page of the table, calling fn per page until the cursor
// is exhausted or fn returns an error.
func (c *Client) Scan(ctx context.Context, req ScanRequest, fn func(page []Item) error) error {
	in := &dynamodb.ScanInput{TableName: aws.String(c.table)}
	if req.Filter != "" {
		in.FilterExpression = aws.String(req.Filter)
	}
	if req.Projection != "" {
		in.ProjectionExpression = aws.String(req.Projection)
	}
	if len(req.Names) > 0 {
		in.ExpressionAttributeNames = req.Names
	}
	if len(req.Values) > 0 {
		in.ExpressionAttributeValues = req.Values
	}
	if req.PageSize > 0 {
		in.Limit = aws.Int64(req.PageSize)
	}

	var cbErr error
	pages := 0
	err := c.api.ScanPagesWithContext(ctx, in, func(out *dynamodb.ScanOutput, _ bool) bool {
		pages++
		if err := fn(out.Items); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	if cbErr != nil {
		return cbErr
	}
	if err != nil {
		return &db.Error{Op: db.OpScan, Err: err}
	}
	c.logger.Debug("Scan complete", zap.Int("pages", pages))
	return nil
}
