package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"

	"github.com/kailas-cloud/catalogsync/internal/db/dynamo"
)

// memStore is an overwrite-by-key table that understands the repo's scan filter
// and applies the projection.
type memStore struct {
	mu      sync.Mutex
	items   map[string]dynamo.Item
	puts    int
	lastReq dynamo.ScanRequest
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]dynamo.Item)}
}

func (m *memStore) PutBatch(_ context.Context, items []dynamo.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	for _, it := range items {
		m.items[aws.StringValue(it["PK"].S)+"|"+aws.StringValue(it["SK"].S)] = it
	}
	return nil
}

func (m *memStore) Scan(_ context.Context, req dynamo.ScanRequest, fn func([]dynamo.Item) error) error {
	m.mu.Lock()
	m.lastReq = req
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var page []dynamo.Item
	for _, k := range keys {
		it := m.items[k]
		if aws.StringValue(it["PK"].S) != aws.StringValue(req.Values[":pk"].S) {
			continue
		}
		if aws.StringValue(it["entity"].S) != aws.StringValue(req.Values[":entity"].S) {
			continue
		}
		page = append(page, project(it, req))
	}
	m.mu.Unlock()

	// two pages to exercise per-page callbacks
	half := len(page) / 2
	if err := fn(page[:half]); err != nil {
		return err
	}
	return fn(page[half:])
}

func project(it dynamo.Item, req dynamo.ScanRequest) dynamo.Item {
	out := dynamo.Item{}
	for _, alias := range strings.Split(req.Projection, ", ") {
		name := aws.StringValue(req.Names[alias])
		if v, ok := it[name]; ok {
			out[name] = v
		}
	}
	return out
}
