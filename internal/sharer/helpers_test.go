package sharer

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/origin"
)

const foreignOrigin = "http://evil.example:80"

var errBusDown = errors.New("bus down")

func newHub() *bus.MemoryHub {
	return bus.NewMemoryHub(origin.Current())
}

func newFakeClock() *clock.FakeClock {
	return clock.Fake(time.Unix(1700000000, 0))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	return cfg
}

// drainAll runs every executor until none has queued work left.
func drainAll(execs ...*loop.Manual) {
	for {
		ran := 0
		for _, e := range execs {
			ran += e.Drain()
		}
		if ran == 0 {
			return
		}
	}
}

// probe is a raw subscriber that records payloads without decoding.
type probe struct {
	mu       sync.Mutex
	payloads []string
	ch       bus.Channel
}

func openProbe(hub *bus.MemoryHub, name string) *probe {
	p := &probe{}
	ch, err := hub.Open(name, func(ev bus.Event) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.payloads = append(p.payloads, string(ev.Data))
	})
	if err != nil {
		panic(err)
	}
	p.ch = ch
	return p
}

func (p *probe) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

type failingChannel struct{}

func (failingChannel) Post([]byte) error { return errBusDown }
func (failingChannel) Close() error      { return nil }

var (
	refusingOpener = bus.OpenerFunc(func(string, bus.DeliverFunc) (bus.Channel, error) {
		return nil, errBusDown
	})
	deafOpener = bus.OpenerFunc(func(string, bus.DeliverFunc) (bus.Channel, error) {
		return failingChannel{}, nil
	})
)
