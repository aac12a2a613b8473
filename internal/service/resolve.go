package service

import (
	"context"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/danmuck/sessionsharer/internal/sharer"
	"golang.org/x/sync/errgroup"
)

// NotLoggedIn is what clients show when no id was learned.
const NotLoggedIn = "Not Logged In"

// Ask resolves the session id once on a private loop and returns the
// settled Source. The loop is stopped before Ask returns, so the Source
// may be read freely.
func Ask(ctx context.Context, cfg sharer.Config, opener bus.Opener, clk clock.Clock) (*sharer.Source, error) {
	if clk == nil {
		clk = clock.Real()
	}
	l := loop.New()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(gctx) })

	s, err := sharer.Resolve(gctx, cfg, opener, l, clk)
	l.Close()
	_ = g.Wait()
	if s != nil {
		// No-op once settled; releases the requester if ctx ended first.
		s.Close()
	}
	return s, err
}

// Describe renders an id the way the client shows it.
func Describe(id protocol.NullID) string {
	if !id.Valid {
		return NotLoggedIn
	}
	return id.String()
}
