package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "newsbot/pkg/logx"
)

const (
	settleDelay       = 250 * time.Millisecond
	watchRetryFloor   = 250 * time.Millisecond
	watchRetryCeiling = 5 * time.Second
)

// retry is a doubling delay with up to 50% jitter, capped at watchRetryCeiling.
type retry struct{ cur time.Duration }

func (r *retry) next() time.Duration {
	if r.cur <= 0 {
		r.cur = watchRetryFloor
	}
	d := r.cur + rand.N(r.cur/2+1)
	r.cur = min(r.cur*2, watchRetryCeiling)
	return d
}

func (r *retry) reset() { r.cur = watchRetryFloor }

// Watch follows the config file's directory and reloads after writes settle.
// A broken watcher is recreated with backoff. It returns nil when ctx ends.
func (m *ConfigManager) Watch(ctx context.Context) error {
	var r retry
	for {
		err := m.watchOnce(ctx, &r)
		if ctx.Err() != nil {
			return nil
		}
		wait := r.next()
		m.warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one watcher until it breaks or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, r *retry) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher init: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	r.reset()
	m.debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()
	arm := func() {
		settle.Reset(settleDelay)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				m.debug("config change detected; scheduling reload", logx.String("op", ev.Op.String()))
				arm()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.warn("config watch overflow; forcing reload", logx.Err(err))
				arm()
				continue
			}
			m.warn("config watch error", logx.Err(err))
		case <-settle.C:
			m.applyReload(ctx)
		}
	}
}

func (m *ConfigManager) applyReload(ctx context.Context) {
	cfg, err := m.reload(ctx)
	switch {
	case errors.Is(err, errUnchanged):
		m.debug("config unchanged; skipping publish", logx.String("path", m.path))
	case err != nil:
		m.warn("config rejected", logx.String("path", m.path), logx.Err(err))
	default:
		m.debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", digestOf(cfg))))
	}
}
