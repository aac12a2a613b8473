package sharer

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/observability"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Replier answers on the bus a message arrived on.
type Replier interface {
	Send(m protocol.Message) error
	Post(payload []byte) error
}

// Handler receives decoded, same-origin messages.
type Handler interface {
	Handle(m protocol.Message, r Replier)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m protocol.Message, r Replier)

func (f HandlerFunc) Handle(m protocol.Message, r Replier) { f(m, r) }

// handlerSlot boxes a Handler so it can sit behind an atomic.Pointer.
type handlerSlot struct {
	h Handler
}

var ignoreAll = HandlerFunc(func(protocol.Message, Replier) {})

// Transport owns one bus subscription and routes inbound messages to the
// active Handler.
type Transport struct {
	cfg     Config
	exec    loop.Executor
	ch      bus.Channel
	handler atomic.Pointer[handlerSlot]
	closed  atomic.Bool
}

// NewTransport subscribes to cfg.Channel. Inbound events are handed to
// exec before anything else looks at them.
func NewTransport(cfg Config, opener bus.Opener, exec loop.Executor, h Handler) (*Transport, error) {
	cfg = cfg.WithDefaults()
	t := &Transport{cfg: cfg, exec: exec}
	t.ReplaceHandler(h)

	ch, err := opener.Open(cfg.Channel, t.deliver)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChannelCreationFailed, cfg.Channel, err)
	}
	t.ch = ch
	return t, nil
}

// ReplaceHandler installs h in one atomic store. Messages already being
// handled finish on the old handler; every later message sees h. Nothing
// is replayed. Safe for concurrent use.
func (t *Transport) ReplaceHandler(h Handler) {
	if h == nil {
		h = ignoreAll
	}
	t.handler.Store(&handlerSlot{h: h})
}

// Send encodes m and posts it.
func (t *Transport) Send(m protocol.Message) error {
	payload, err := t.cfg.Codec.Encode(m)
	if err != nil {
		observability.RecordMessage(t.cfg.Channel, observability.DirectionOut, kindLabel(m.Kind), observability.OutcomeFailed)
		return fmt.Errorf("%w: %s: %v", ErrSerializationFailed, m, err)
	}
	if err := t.post(payload, kindLabel(m.Kind)); err != nil {
		return err
	}
	return nil
}

// Post sends an already encoded payload.
func (t *Transport) Post(payload []byte) error {
	return t.post(payload, "raw")
}

func (t *Transport) post(payload []byte, kind string) error {
	if t.closed.Load() {
		observability.RecordMessage(t.cfg.Channel, observability.DirectionOut, kind, observability.OutcomeFailed)
		return fmt.Errorf("%w: %v", ErrPostFailed, bus.ErrClosed)
	}
	if err := t.ch.Post(payload); err != nil {
		observability.RecordMessage(t.cfg.Channel, observability.DirectionOut, kind, observability.OutcomeFailed)
		return fmt.Errorf("%w: %v", ErrPostFailed, err)
	}
	observability.RecordMessage(t.cfg.Channel, observability.DirectionOut, kind, observability.OutcomeSent)
	return nil
}

// Close unsubscribes. Deliveries already queued on the executor are
// dropped. Safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.ch.Close()
}

func (t *Transport) Channel() string {
	return t.cfg.Channel
}

func (t *Transport) deliver(ev bus.Event) {
	t.exec.Post(func() { t.receive(ev) })
}

func (t *Transport) receive(ev bus.Event) {
	if t.closed.Load() {
		return
	}
	if ev.Origin != origin.Current() {
		observability.RecordMessage(t.cfg.Channel, observability.DirectionIn, "unknown", observability.OutcomeForeignOrigin)
		log.Debug().
			Str("channel", t.cfg.Channel).
			Str("origin", ev.Origin).
			Msg("sharer.Transport dropped foreign origin")
		return
	}
	msg, err := t.cfg.Codec.Decode(ev.Data)
	if err != nil {
		observability.RecordMessage(t.cfg.Channel, observability.DirectionIn, "unknown", observability.OutcomeMalformed)
		log.Debug().
			Str("channel", t.cfg.Channel).
			Err(err).
			Msg("sharer.Transport dropped malformed payload")
		return
	}
	observability.RecordMessage(t.cfg.Channel, observability.DirectionIn, kindLabel(msg.Kind), observability.OutcomeDelivered)
	t.handler.Load().h.Handle(msg, t)
}

func kindLabel(k protocol.Kind) string {
	return strings.ToLower(k.String())
}
