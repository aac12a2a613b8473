package bus

import (
	"sync"
)

var _ Opener = (*MemoryHub)(nil)

// MemoryHub is an in-process bus. Every channel opened on one hub shares
// the hub's origin, like tabs of one site sharing a browser.
type MemoryHub struct {
	origin string

	mu   sync.RWMutex
	subs map[string]map[*memoryChannel]struct{}
}

func NewMemoryHub(origin string) *MemoryHub {
	return &MemoryHub{
		origin: origin,
		subs:   make(map[string]map[*memoryChannel]struct{}),
	}
}

func (h *MemoryHub) Open(name string, deliver DeliverFunc) (Channel, error) {
	if !validName(name) {
		return nil, ErrInvalidChannel
	}
	if deliver == nil {
		deliver = func(Event) {}
	}
	ch := &memoryChannel{hub: h, name: name, deliver: deliver}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[name]
	if !ok {
		set = make(map[*memoryChannel]struct{})
		h.subs[name] = set
	}
	set[ch] = struct{}{}
	return ch, nil
}

// Inject delivers ev to every subscriber of name and returns how many
// received it. It stands in for traffic from outside the hub.
func (h *MemoryHub) Inject(name string, ev Event) int {
	return h.fanout(name, nil, ev)
}

// Subscribers returns the number of open channels for name.
func (h *MemoryHub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[name])
}

func (h *MemoryHub) fanout(name string, from *memoryChannel, ev Event) int {
	h.mu.RLock()
	targets := make([]*memoryChannel, 0, len(h.subs[name]))
	for ch := range h.subs[name] {
		if ch != from {
			targets = append(targets, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		data := make([]byte, len(ev.Data))
		copy(data, ev.Data)
		ch.deliver(Event{Origin: ev.Origin, Data: data})
	}
	return len(targets)
}

func (h *MemoryHub) remove(ch *memoryChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[ch.name]
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, ch.name)
	}
}

type memoryChannel struct {
	hub     *MemoryHub
	name    string
	deliver DeliverFunc

	mu     sync.Mutex
	closed bool
}

func (c *memoryChannel) Post(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.hub.fanout(c.name, c, Event{Origin: c.hub.origin, Data: data})
	return nil
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.hub.remove(c)
	return nil
}
