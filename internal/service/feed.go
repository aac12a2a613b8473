package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidInterval = errors.New("service: invalid interval")
	ErrInvalidID       = errors.New("service: invalid id")
)

// Feed produces the ids a holder publishes. Run blocks until ctx ends and
// calls publish for every new value.
type Feed interface {
	Run(ctx context.Context, publish func(protocol.NullID)) error
}

// CounterFeed starts with no session and bumps a counter every Interval.
// Once the counter passes Threshold each new value is published.
type CounterFeed struct {
	Clock     clock.Clock
	Interval  time.Duration
	Threshold uint64
}

func (f CounterFeed) Run(ctx context.Context, publish func(protocol.NullID)) error {
	if f.Interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, f.Interval)
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ticker := clk.NewTicker(f.Interval)
	defer ticker.Stop()

	var counter uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			counter++
			if counter > f.Threshold {
				publish(protocol.Some(protocol.SessionID(counter)))
			}
		}
	}
}

// FixedFeed publishes ID once.
type FixedFeed struct {
	ID protocol.NullID
}

func (f FixedFeed) Run(ctx context.Context, publish func(protocol.NullID)) error {
	publish(f.ID)
	<-ctx.Done()
	return nil
}

// FileFeed publishes the id stored in Path and republishes whenever the
// file changes. An empty or missing file means no session.
type FileFeed struct {
	Path string
}

func (f FileFeed) Run(ctx context.Context, publish func(protocol.NullID)) error {
	path, err := filepath.Abs(f.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Editors replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	f.reload(path, publish)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			f.reload(path, publish)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", path).Msg("service.FileFeed watch error")
		}
	}
}

func (f FileFeed) reload(path string, publish func(protocol.NullID)) {
	id, err := ReadIDFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("service.FileFeed kept previous id")
		return
	}
	publish(id)
}

// ReadIDFile parses a decimal session id from path. Blank content or a
// missing file yields no session.
func ReadIDFile(path string) (protocol.NullID, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return protocol.None(), nil
	}
	if err != nil {
		return protocol.None(), err
	}
	return ParseID(string(raw))
}

// ParseID reads a decimal id. "", "none" and "null" mean no session.
func ParseID(raw string) (protocol.NullID, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "none", "null":
		return protocol.None(), nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return protocol.None(), fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return protocol.Some(protocol.SessionID(v)), nil
}
