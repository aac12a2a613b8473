package sharer

import (
	"strings"
	"time"

	"github.com/danmuck/sessionsharer/internal/protocol"
)

const (
	DefaultChannel = "session-sharer"
	DefaultTimeout = 100 * time.Millisecond
)

// Config is shared by every Holder and Requester of one protocol
// instance. All participants must agree on Channel and Codec.
type Config struct {
	Channel string
	// Timeout bounds how long a Requester waits for a Response.
	Timeout time.Duration
	Codec   protocol.Codec
}

func DefaultConfig() Config {
	return Config{
		Channel: DefaultChannel,
		Timeout: DefaultTimeout,
		Codec:   protocol.JSON,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Channel) == "" {
		c.Channel = def.Channel
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Codec == nil {
		c.Codec = def.Codec
	}
	return c
}
