package bus

import (
	"errors"
	"strings"
)

var (
	ErrClosed         = errors.New("bus: closed")
	ErrInvalidChannel = errors.New("bus: invalid channel name")
)

// Event is one inbound payload and the origin it was posted from.
type Event struct {
	Origin string
	Data   []byte
}

// DeliverFunc receives inbound events for one subscription.
type DeliverFunc func(Event)

// Channel is one subscription to a named topic.
type Channel interface {
	Post(data []byte) error
	Close() error
}

// Opener subscribes to named topics.
type Opener interface {
	Open(name string, deliver DeliverFunc) (Channel, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(name string, deliver DeliverFunc) (Channel, error)

func (f OpenerFunc) Open(name string, deliver DeliverFunc) (Channel, error) {
	return f(name, deliver)
}

func validName(name string) bool {
	return strings.TrimSpace(name) != "" && len(name) <= 255
}
