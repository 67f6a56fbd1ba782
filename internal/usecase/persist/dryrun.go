package persist

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// DryRunWriter prints planned batches instead of writing them.
type DryRunWriter struct {
	mu  sync.Mutex
	out io.Writer
	n   int
}

// NewDryRunWriter writes batch plans to out.
func NewDryRunWriter(out io.Writer) *DryRunWriter {
	return &DryRunWriter{out: out}
}

// WriteBatch implements Writer.
func (d *DryRunWriter) WriteBatch(_ context.Context, tenant string, batch []domain.Entity) error {
	if len(batch) == 0 {
		return nil
	}
	var products, variants int
	for _, e := range batch {
		switch e.Kind() {
		case domain.KindProduct:
			products++
		case domain.KindVariant:
			variants++
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	_, err := fmt.Fprintf(d.out, "batch %d: %d items (%d products, %d variants) first=%s last=%s\n",
		d.n, len(batch), products, variants,
		batch[0].Key(tenant).SK, batch[len(batch)-1].Key(tenant).SK,
	)
	return err
}

// Batches returns how many batches were planned.
func (d *DryRunWriter) Batches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
