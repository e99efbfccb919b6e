package content

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"newsbot/internal/observability/metrics"
	logx "newsbot/pkg/logx"
)

// Safe wraps src so that errors and panics become an empty result and a warning.
// Callers see "no content" rather than a failure.
func Safe(name string, src Source, log logx.Logger) Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &safeSource{name: name, src: src, log: log}
}

type safeSource struct {
	name string
	src  Source
	log  logx.Logger
}

func (s *safeSource) FetchLatest(ctx context.Context, limit int) (items []Item, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("content source panicked", logx.String("source", s.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.RecordFetch(s.name, err, time.Since(start))
		if err != nil {
			s.log.Warn("content fetch failed", logx.String("source", s.name), logx.Err(err), logx.Duration("took", time.Since(start)))
			items, err = []Item{}, nil
		}
	}()
	return s.src.FetchLatest(ctx, limit)
}
