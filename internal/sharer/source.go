package sharer

import (
	"context"
	"io"
	"time"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/observability"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/rs/zerolog/log"
)

type State uint8

const (
	StateTrying State = iota
	StateSessionID
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateTrying:
		return "trying"
	case StateSessionID:
		return "session_id"
	case StateGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Source resolves the session id once. While Trying it owns a live
// Requester; the transition to SessionID or GaveUp drops it.
type Source struct {
	cfg     Config
	clk     clock.Clock
	started time.Time

	state     State
	requester io.Closer // non-nil only while Trying
	id        protocol.NullID
	done      chan struct{}
}

// NewSource starts a Requester whose events are mapped through transform
// and handed to sink. The owner is expected to route them back into
// Drive. If the Requester cannot be built the Source is returned already
// GaveUp together with the error.
func NewSource[E any](
	cfg Config,
	opener bus.Opener,
	exec loop.Executor,
	clk clock.Clock,
	transform func(Passthrough) E,
	sink func(E),
) (*Source, error) {
	cfg = cfg.WithDefaults()
	s := &Source{
		cfg:     cfg,
		clk:     clk,
		started: clk.Now(),
		state:   StateTrying,
		done:    make(chan struct{}),
	}
	r, err := NewRequester(cfg, opener, exec, clk, transform, sink)
	if err != nil {
		log.Warn().
			Err(err).
			Str("channel", cfg.Channel).
			Msg("sharer.Source could not ask, giving up")
		s.finish(StateGaveUp, protocol.None())
		return s, err
	}
	s.requester = r
	return s, nil
}

// Ask builds a Source that drives itself from its own Requester.
func Ask(cfg Config, opener bus.Opener, exec loop.Executor, clk clock.Clock) (*Source, error) {
	var s *Source
	s, err := NewSource(cfg, opener, exec, clk, identity, func(p Passthrough) { s.Drive(p) })
	return s, err
}

func identity(p Passthrough) Passthrough { return p }

// Drive applies p while Trying and reports whether it caused the
// transition. Later events are ignored.
func (s *Source) Drive(p Passthrough) bool {
	if s.state != StateTrying {
		log.Debug().
			Str("channel", s.cfg.Channel).
			Stringer("state", s.state).
			Stringer("event", p).
			Msg("sharer.Source ignored late event")
		return false
	}
	switch p.Kind {
	case PassthroughID:
		s.finish(StateSessionID, p.ID)
	case PassthroughTimedOut:
		s.finish(StateGaveUp, protocol.None())
	default:
		return false
	}
	return true
}

// Close gives up if still Trying. Safe to call more than once.
func (s *Source) Close() error {
	if s.state == StateTrying {
		s.finish(StateGaveUp, protocol.None())
	}
	return nil
}

func (s *Source) finish(state State, id protocol.NullID) {
	s.state = state
	s.id = id
	if s.requester != nil {
		s.requester.Close()
		s.requester = nil
	}
	close(s.done)

	outcome := state.String()
	if state == StateSessionID && !id.Valid {
		outcome = "no_session"
	}
	elapsed := s.clk.Now().Sub(s.started)
	observability.RecordResolution(s.cfg.Channel, outcome, elapsed)
	log.Info().
		Str("channel", s.cfg.Channel).
		Str("outcome", outcome).
		Stringer("session_id", id).
		Dur("elapsed", elapsed).
		Msg("sharer.Source settled")
}

// SessionID returns the resolved id. It is invalid while Trying, after
// GaveUp, and when a holder confirmed there is no session; State tells
// those apart.
func (s *Source) SessionID() protocol.NullID {
	if s.state != StateSessionID {
		return protocol.None()
	}
	return s.id
}

func (s *Source) State() State {
	return s.state
}

// Done is closed on the transition out of Trying. Reading SessionID and
// State from another goroutine is safe once Done is closed.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Resolve runs Ask on l and waits until the Source settles or ctx ends.
// On ctx expiry the Source is closed (GaveUp) and ctx.Err returned.
func Resolve(ctx context.Context, cfg Config, opener bus.Opener, l *loop.Loop, clk clock.Clock) (*Source, error) {
	var (
		s      *Source
		askErr error
	)
	ask := func() {
		if ctx.Err() != nil {
			return
		}
		s, askErr = Ask(cfg, opener, l, clk)
	}
	if err := l.Do(ctx, ask); err != nil {
		// The ask may still be queued or may have just run. Anything queued
		// after it runs later, so this closes whatever it built.
		_ = l.Do(context.Background(), func() {
			if s != nil {
				s.Close()
			}
		})
		return nil, err
	}
	if askErr != nil {
		return s, askErr
	}
	select {
	case <-s.Done():
		return s, nil
	case <-ctx.Done():
		// ctx is already done, so Do needs its own context to reach the loop.
		_ = l.Do(context.Background(), func() { s.Close() })
		return s, ctx.Err()
	}
}
