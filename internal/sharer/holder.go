package sharer

import (
	"sync"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Holder answers every Query on its channel with the id it holds. It has
// no notion of who asked; requesters correlate by their own state.
type Holder struct {
	t *Transport

	mu    sync.Mutex
	value protocol.NullID
}

func NewHolder(cfg Config, opener bus.Opener, exec loop.Executor, initial protocol.NullID) (*Holder, error) {
	cfg = cfg.WithDefaults()
	h := &Holder{value: initial}
	t, err := NewTransport(cfg, opener, exec, responder(cfg, initial))
	if err != nil {
		return nil, err
	}
	h.t = t
	log.Info().
		Str("channel", cfg.Channel).
		Stringer("session_id", initial).
		Msg("sharer.Holder ready")
	return h, nil
}

// Update makes every later Query answer with v. Responses already sent
// are unaffected. Safe for concurrent use.
func (h *Holder) Update(v protocol.NullID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v == h.value {
		return
	}
	h.t.ReplaceHandler(responder(h.t.cfg, v))
	log.Info().
		Str("channel", h.t.cfg.Channel).
		Stringer("from", h.value).
		Stringer("to", v).
		Msg("sharer.Holder updated")
	h.value = v
}

// Value returns the id currently being served. Safe for concurrent use.
func (h *Holder) Value() protocol.NullID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

func (h *Holder) Close() error {
	return h.t.Close()
}

// responder encodes the Response once at bind time and replays the bytes
// for every Query.
func responder(cfg Config, v protocol.NullID) Handler {
	payload, err := cfg.Codec.Encode(protocol.Response(v))
	if err != nil {
		log.Error().
			Err(err).
			Str("channel", cfg.Channel).
			Stringer("session_id", v).
			Msg("sharer.Holder cannot encode response")
		return ignoreAll
	}
	return HandlerFunc(func(m protocol.Message, r Replier) {
		if m.Kind != protocol.KindQuery {
			return
		}
		if err := r.Post(payload); err != nil {
			log.Warn().
				Err(err).
				Str("channel", cfg.Channel).
				Msg("sharer.Holder response failed")
		}
	})
}
