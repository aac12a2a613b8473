package config

import (
	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/danmuck/sessionsharer/internal/service"
	"github.com/danmuck/sessionsharer/internal/sharer"
)

func (c Config) SharerConfig() (sharer.Config, error) {
	codec, err := protocol.CodecByName(c.Codec)
	if err != nil {
		return sharer.Config{}, err
	}
	return sharer.Config{
		Channel: c.Channel,
		Timeout: c.Timeout,
		Codec:   codec,
	}.WithDefaults(), nil
}

// UDPConfig stamps the process origin, so origin.Init must run first.
func (c Config) UDPConfig() bus.UDPConfig {
	udp := bus.DefaultUDPConfig()
	udp.Group = c.Group
	udp.Interface = c.Interface
	if c.TTL > 0 {
		udp.TTL = c.TTL
	}
	udp.Origin = origin.Current()
	return udp
}

func (c Config) HolderConfig() (service.HolderConfig, error) {
	sc, err := c.SharerConfig()
	if err != nil {
		return service.HolderConfig{}, err
	}
	hc := service.DefaultHolderConfig()
	hc.Sharer = sc
	hc.AdminListenAddr = c.AdminAddr
	hc.AdminCORSOrigins = c.AdminCORSOrigins
	hc.HeartbeatInterval = c.Heartbeat
	return hc, nil
}

// Feed picks the id source: a watched file, a fixed id, or the counter.
func (c Config) Feed(clk clock.Clock) service.Feed {
	switch {
	case c.IDFile != "":
		return service.FileFeed{Path: c.IDFile}
	case c.IDSet:
		return service.FixedFeed{ID: c.ID}
	default:
		return service.CounterFeed{Clock: clk, Interval: c.Interval, Threshold: c.Threshold}
	}
}
