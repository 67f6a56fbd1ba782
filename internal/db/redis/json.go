package redis

import (
	"context"
	"errors"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/catalogsync/internal/db"
)

// JSONSetMulti pipelines JSON.SET for all items in a single round-trip.
// Every reply is checked; the first failures are joined into one error.
func (s *Store) JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error {
	if len(items) == 0 {
		return nil
	}

	cmds := make(rueidis.Commands, 0, len(items))
	for _, it := range items {
		path := it.Path
		if path == "" {
			path = "$"
		}
		cmds = append(cmds, s.b().Arbitrary("JSON.SET").Keys(it.Key).Args(path, string(it.Data)).Build())
	}

	var errs []error
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			errs = append(errs, &db.Error{Op: db.OpJSONSet + " " + items[i].Key, Err: err})
		}
	}
	return errors.Join(errs...)
}
