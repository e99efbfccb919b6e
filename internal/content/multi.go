package content

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Named pairs a source with a label used in logs and metrics.
type Named struct {
	Name   string
	Source Source
}

// Multi fetches every source concurrently and merges the results.
// A failing source is skipped; only when all fail is an error returned.
type Multi struct {
	sources []Named
	limit   int // max concurrent fetches, 0 = unlimited
}

func NewMulti(limit int, sources ...Named) *Multi {
	return &Multi{sources: sources, limit: limit}
}

func (m *Multi) Len() int { return len(m.sources) }

func (m *Multi) FetchLatest(ctx context.Context, limit int) ([]Item, error) {
	if len(m.sources) == 0 {
		return nil, ErrNoContent
	}

	var (
		mu   sync.Mutex
		all  []Item
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	if m.limit > 0 {
		g.SetLimit(m.limit)
	}
	for _, ns := range m.sources {
		g.Go(func() error {
			items, err := ns.Source.FetchLatest(gctx, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ns.Name, err))
				return nil
			}
			for _, it := range items {
				if it.Source == "" {
					it.Source = ns.Name
				}
				all = append(all, it)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(all) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	out := Merge(all)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
