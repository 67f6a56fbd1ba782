// Package spill keeps correlation buffers on disk so very large exports do
// not have to hold every early child record in memory.
package spill

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

var levelPrefix = []byte("lvl/")

const sep = 0x00

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.logger.Errorf(msg, items...) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.logger.Warnf(msg, items...) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.logger.Debugf(msg, items...) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debugf(msg, items...) }

// Buffer is a badger-backed correlate.ChildBuffer.
type Buffer struct {
	db     *badger.DB
	dir    string
	seq    atomic.Uint64
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open creates a buffer in a fresh directory under baseDir, removed on Close.
// An empty baseDir opens an in-memory store.
func Open(baseDir string, logger *zap.Logger) (*Buffer, error) {
	var (
		opts badger.Options
		dir  string
	)
	if baseDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create spill dir: %w", err)
		}
		d, err := os.MkdirTemp(baseDir, "correlate-")
		if err != nil {
			return nil, fmt.Errorf("create spill dir: %w", err)
		}
		dir = d
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		return nil, fmt.Errorf("open spill store: %w", err)
	}
	return &Buffer{db: db, dir: dir, logger: logger}, nil
}

func parentPrefix(parent string) []byte {
	k := make([]byte, 0, len(levelPrefix)+len(parent)+1)
	k = append(k, levelPrefix...)
	k = append(k, parent...)
	return append(k, sep)
}

// Append stores lvl under parent. Keys carry a sequence number so Drain
// returns levels in arrival order.
func (b *Buffer) Append(parent string, lvl domain.InventoryLevel) error {
	val, err := json.Marshal(lvl)
	if err != nil {
		return fmt.Errorf("encode level: %w", err)
	}
	key := binary.BigEndian.AppendUint64(parentPrefix(parent), b.seq.Add(1))
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// Drain removes and returns everything buffered under parent.
func (b *Buffer) Drain(parent string) ([]domain.InventoryLevel, error) {
	prefix := parentPrefix(parent)
	var out []domain.InventoryLevel

	err := b.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var lvl domain.InventoryLevel
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &lvl)
			}); err != nil {
				it.Close()
				return fmt.Errorf("decode level: %w", err)
			}
			out = append(out, lvl)
			keys = append(keys, item.KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remaining counts buffered levels per parent with a key-only scan.
func (b *Buffer) Remaining() (map[string]int, error) {
	out := make(map[string]int)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: levelPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := it.Item().Key()[len(levelPrefix):]
			i := bytes.IndexByte(rest, sep)
			if i < 0 {
				continue
			}
			out[string(rest[:i])]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the store and removes its directory. Later calls are no-ops.
func (b *Buffer) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.db.Close()
		if b.dir != "" {
			if rmErr := os.RemoveAll(b.dir); rmErr != nil {
				b.logger.Warn("Failed to remove spill dir", zap.String("dir", b.dir), zap.Error(rmErr))
			}
		}
	})
	return b.closeErr
}
