// Package catalog maps catalog entities to keyed-store items and back.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/db/dynamo"
	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// store is the consumer interface for the keyed store (ISP).
type store interface {
	PutBatch(ctx context.Context, items []dynamo.Item) error
	Scan(ctx context.Context, req dynamo.ScanRequest, fn func(page []dynamo.Item) error) error
}

// Repo implements persist.Writer and the scan side of the catalog.
type Repo struct {
	store    store
	pageSize int64
	logger   *zap.Logger
	onDecode func(*domain.RecordError)
}

// Option configures a Repo.
type Option func(*Repo)

// WithDecodeErrors receives one report per scanned item that was skipped
// because it could not be decoded.
func WithDecodeErrors(fn func(*domain.RecordError)) Option {
	return func(r *Repo) { r.onDecode = fn }
}

// New creates a catalog repository. pageSize <= 0 leaves paging to the store.
func New(s store, pageSize int64, logger *zap.Logger, opts ...Option) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repo{store: s, pageSize: pageSize, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WriteBatch upserts products and variants under the tenant partition.
func (r *Repo) WriteBatch(ctx context.Context, tenant string, batch []domain.Entity) error {
	items := make([]dynamo.Item, 0, len(batch))
	for _, e := range batch {
		var (
			av  dynamo.Item
			err error
		)
		switch v := e.(type) {
		case *domain.Product:
			av, err = dynamodbattribute.MarshalMap(toProductItem(tenant, v))
		case *domain.Variant:
			av, err = dynamodbattribute.MarshalMap(toVariantItem(tenant, v))
		default:
			return fmt.Errorf("unsupported entity kind %q", e.Kind())
		}
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", e.Kind(), e.EntityID(), err)
		}
		items = append(items, av)
	}
	return r.store.PutBatch(ctx, items)
}

// ScanProducts calls fn for every product of the tenant.
func (r *Repo) ScanProducts(ctx context.Context, tenant string, fn func(domain.ProductSummary) error) error {
	return r.scan(ctx, tenant, domain.KindProduct, productProjection, func(av dynamo.Item) error {
		var it productSummaryItem
		if err := dynamodbattribute.UnmarshalMap(av, &it); err != nil {
			return &decodeError{err: err}
		}
		return fn(it.toDomain())
	})
}

// ScanVariants calls fn for every variant of the tenant.
func (r *Repo) ScanVariants(ctx context.Context, tenant string, fn func(domain.VariantRecord) error) error {
	return r.scan(ctx, tenant, domain.KindVariant, variantProjection, func(av dynamo.Item) error {
		var it variantRecordItem
		if err := dynamodbattribute.UnmarshalMap(av, &it); err != nil {
			return &decodeError{err: err}
		}
		return fn(it.toDomain())
	})
}

// decodeError marks an item that could not be unmarshaled; it is skipped.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }

func skOf(av dynamo.Item) string {
	if sk := av[attrSK]; sk != nil && sk.S != nil {
		return *sk.S
	}
	return ""
}

func (r *Repo) scan(
	ctx context.Context, tenant string, kind domain.EntityKind, attrs []string, fn func(dynamo.Item) error,
) error {
	proj, names := projection(attrs)
	names["#pk"] = aws.String(attrPK)
	names["#entity"] = aws.String(attrEntity)

	req := dynamo.ScanRequest{
		Filter:     "#pk = :pk AND #entity = :entity",
		Projection: proj,
		Names:      names,
		Values: map[string]*dynamodb.AttributeValue{
			":pk":     {S: aws.String(domain.TenantPK(tenant))},
			":entity": {S: aws.String(string(kind))},
		},
		PageSize: r.pageSize,
	}

	skipped := 0
	err := r.store.Scan(ctx, req, func(page []dynamo.Item) error {
		for _, av := range page {
			if err := fn(av); err != nil {
				var de *decodeError
				if !errors.As(err, &de) {
					return err
				}
				skipped++
				sk := skOf(av)
				r.logger.Warn("Skipping undecodable item",
					zap.String("entity", string(kind)),
					zap.String("sk", sk),
					zap.Error(err),
				)
				if r.onDecode != nil {
					r.onDecode(&domain.RecordError{Category: domain.CategoryUndecodable, ID: sk, Err: de.err})
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", kind, err)
	}
	if skipped > 0 {
		r.logger.Warn("Scan skipped items", zap.String("entity", string(kind)), zap.Int("skipped", skipped))
	}
	return nil
}
