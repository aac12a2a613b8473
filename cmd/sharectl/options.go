package main

import (
	"time"

	"github.com/danmuck/sessionsharer/internal/config"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// options holds flag values. A flag overrides the config file only when
// it was given on the command line.
type options struct {
	configPath string
	origin     string
	channel    string
	timeout    time.Duration
	codec      string
	bus        string
	group      string
	iface      string
	ttl        int

	adminAddr string
	adminCORS []string
	heartbeat time.Duration
	id        string
	idFile    string
	interval  time.Duration
	threshold uint64
}

func addCommonFlags(fs *pflag.FlagSet) *options {
	def := config.Default()
	o := &options{}
	fs.StringVarP(&o.configPath, "config", "c", "", "TOML or YAML config file")
	fs.StringVar(&o.origin, "origin", "", "origin scoping accepted messages (scheme://host:port)")
	fs.StringVar(&o.channel, "channel", def.Channel, "bus channel name")
	fs.DurationVar(&o.timeout, "timeout", def.Timeout, "how long a requester waits for a response")
	fs.StringVar(&o.codec, "codec", def.Codec, "wire codec: json or cbor")
	fs.StringVar(&o.bus, "bus", def.Bus, "bus: udp or memory")
	fs.StringVar(&o.group, "group", def.Group, "udp multicast group host:port")
	fs.StringVar(&o.iface, "interface", "", "network interface for the multicast group")
	fs.IntVar(&o.ttl, "ttl", def.TTL, "multicast ttl")
	return o
}

func addHoldFlags(fs *pflag.FlagSet, o *options) {
	def := config.Default()
	fs.StringVar(&o.adminAddr, "admin", "", "admin HTTP listen address, empty disables it")
	fs.StringSliceVar(&o.adminCORS, "admin-cors", nil, "browser origins allowed on the admin routes (default: the origin, if http)")
	fs.DurationVar(&o.heartbeat, "heartbeat", def.Heartbeat, "heartbeat log interval, 0 disables it")
	fs.StringVar(&o.id, "id", "", `serve this fixed id ("none" serves no session)`)
	fs.StringVar(&o.idFile, "id-file", "", "serve the id stored in this file and follow its changes")
	fs.DurationVar(&o.interval, "interval", def.Interval, "counter bump interval")
	fs.Uint64Var(&o.threshold, "threshold", def.Threshold, "counter values up to this are not published")
}

// parse parses args, loads the config file and applies changed flags on
// top of it. It also settles the process origin.
func (o *options) parse(fs *pflag.FlagSet, args []string) (config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("origin", func() { cfg.Origin = o.origin })
	set("channel", func() { cfg.Channel = o.channel })
	set("timeout", func() { cfg.Timeout = o.timeout })
	set("codec", func() { cfg.Codec = o.codec })
	set("bus", func() { cfg.Bus = o.bus })
	set("group", func() { cfg.Group = o.group })
	set("interface", func() { cfg.Interface = o.iface })
	set("ttl", func() { cfg.TTL = o.ttl })
	set("admin", func() { cfg.AdminAddr = o.adminAddr })
	set("admin-cors", func() { cfg.AdminCORSOrigins = o.adminCORS })
	set("heartbeat", func() { cfg.Heartbeat = o.heartbeat })
	set("id-file", func() { cfg.IDFile = o.idFile })
	set("interval", func() { cfg.Interval = o.interval })
	set("threshold", func() { cfg.Threshold = o.threshold })
	var idErr error
	set("id", func() {
		cfg.ID, idErr = service.ParseID(o.id)
		cfg.IDSet = true
	})
	if idErr != nil {
		return config.Config{}, idErr
	}

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	if cfg.Origin != "" {
		applied, err := origin.Init(cfg.Origin)
		if err != nil {
			return config.Config{}, err
		}
		if !applied {
			log.Warn().Str("origin", origin.Current()).Msg("sharectl origin already set, ignoring override")
		}
	}
	return cfg, nil
}
