package sharer

import (
	"sync/atomic"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/protocol"
)

type PassthroughKind uint8

const (
	PassthroughID PassthroughKind = iota + 1
	PassthroughTimedOut
)

// Passthrough is one trigger that can end a Requester's wait. It never
// goes on the wire.
type Passthrough struct {
	Kind PassthroughKind
	ID   protocol.NullID
}

func IDEvent(id protocol.NullID) Passthrough {
	return Passthrough{Kind: PassthroughID, ID: id}
}

func TimedOut() Passthrough {
	return Passthrough{Kind: PassthroughTimedOut}
}

func (p Passthrough) String() string {
	if p.Kind == PassthroughTimedOut {
		return "TimedOut"
	}
	return "Id(" + p.ID.String() + ")"
}

// Requester broadcasts one Query and forwards every Response, then the
// timeout, to sink after mapping them through transform. Deciding which
// event counts is the caller's job.
type Requester[E any] struct {
	t      *Transport
	timer  *clock.Timer
	closed atomic.Bool
}

// NewRequester opens a Transport, sends the Query and arms cfg.Timeout
// on clk. If the Query cannot be sent the Transport is closed and the
// error returned; no event will ever reach sink.
func NewRequester[E any](
	cfg Config,
	opener bus.Opener,
	exec loop.Executor,
	clk clock.Clock,
	transform func(Passthrough) E,
	sink func(E),
) (*Requester[E], error) {
	cfg = cfg.WithDefaults()
	r := &Requester[E]{}
	forward := func(p Passthrough) {
		if r.closed.Load() {
			return
		}
		sink(transform(p))
	}

	t, err := NewTransport(cfg, opener, exec, HandlerFunc(func(m protocol.Message, _ Replier) {
		if m.Kind == protocol.KindResponse {
			forward(IDEvent(m.ID))
		}
	}))
	if err != nil {
		return nil, err
	}
	r.t = t
	if err := t.Send(protocol.Query()); err != nil {
		t.Close()
		return nil, err
	}
	r.timer = clk.AfterFunc(cfg.Timeout, func() {
		exec.Post(func() { forward(TimedOut()) })
	})
	return r, nil
}

// Close cancels the timer and unsubscribes. Events already queued are
// discarded. Safe to call more than once.
func (r *Requester[E]) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	return r.t.Close()
}
