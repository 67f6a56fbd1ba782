// Package shopify starts and polls Shopify Admin GraphQL bulk operations.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/usecase/export"
)

// Defaults.
const (
	DefaultAPIVersion = "2025-07"
	DefaultTimeout    = 60 * time.Second
	// Admin API leaky bucket refills at 2 requests/s on standard plans.
	DefaultRPS = 2
)

// ErrUserErrors is returned when Shopify rejects a bulk operation.
var ErrUserErrors = errors.New("bulk operation rejected")

// APIError is a non-2xx response or a top-level GraphQL error.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("shopify: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return "shopify: " + e.Message
}

// Config configures a Client.
type Config struct {
	Shop       string // e.g. myshop.myshopify.com
	Token      string
	APIVersion string
	// Endpoint overrides the derived Admin GraphQL URL (tests).
	Endpoint   string
	Timeout    time.Duration
	RPS        float64
	HTTPClient *http.Client
}

// Client implements export.Source.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" && cfg.Shop == "" {
		return nil, fmt.Errorf("%w: shopify shop is required", domain.ErrInvalidConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: shopify token is required", domain.ErrInvalidConfig)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", cfg.Shop, cfg.APIVersion)
	}
	return &Client{
		endpoint: endpoint,
		token:    cfg.Token,
		http:     cfg.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		logger:   logger,
		now:      time.Now,
	}, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type bulkOperation struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode"`
	URL         string `json:"url"`
	ObjectCount string `json:"objectCount"`
}

// StartExport runs bulkOperationRunQuery.
func (c *Client) StartExport(ctx context.Context, query string) (export.Job, error) {
	var out struct {
		Run struct {
			BulkOperation *bulkOperation `json:"bulkOperation"`
			UserErrors    []userError    `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := c.do(ctx, runMutation, map[string]any{"query": query}, &out); err != nil {
		return export.Job{}, err
	}
	if len(out.Run.UserErrors) > 0 {
		msgs := make([]string, len(out.Run.UserErrors))
		for i, ue := range out.Run.UserErrors {
			msgs[i] = ue.Message
			if len(ue.Field) > 0 {
				msgs[i] = strings.Join(ue.Field, ".") + ": " + ue.Message
			}
		}
		return export.Job{}, fmt.Errorf("%w: %s", ErrUserErrors, strings.Join(msgs, "; "))
	}
	if out.Run.BulkOperation == nil || out.Run.BulkOperation.ID == "" {
		return export.Job{}, &APIError{Message: "bulkOperationRunQuery returned no operation"}
	}
	return export.Job{ID: out.Run.BulkOperation.ID, StartedAt: c.now()}, nil
}

// PollExport reads the operation's current state.
func (c *Client) PollExport(ctx context.Context, job export.Job) (export.Status, error) {
	var out struct {
		Node *bulkOperation `json:"node"`
	}
	if err := c.do(ctx, statusQuery, map[string]any{"id": job.ID}, &out); err != nil {
		return export.Status{}, err
	}
	if out.Node == nil {
		return export.Status{}, fmt.Errorf("bulk operation %s: %w", job.ID, domain.ErrNotFound)
	}

	st := export.Status{
		State:     domain.JobStatus(out.Node.Status),
		URL:       out.Node.URL,
		ErrorCode: out.Node.ErrorCode,
	}
	if out.Node.ObjectCount != "" {
		n, err := strconv.ParseInt(out.Node.ObjectCount, 10, 64)
		if err == nil {
			st.ObjectCount = n
		}
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shopify request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read shopify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, apiErr)
		}
		return apiErr
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("decode shopify response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return &APIError{Message: strings.Join(msgs, "; ")}
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode shopify data: %w", err)
	}
	return nil
}
