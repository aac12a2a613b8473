package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/danmuck/sessionsharer/internal/service"
	"github.com/danmuck/sessionsharer/internal/sharer"
	"gopkg.in/yaml.v3"
)

const (
	BusUDP    = "udp"
	BusMemory = "memory"
)

var (
	ErrInvalidConfig = errors.New("config: invalid config")
	ErrUnknownBus    = errors.New("config: unknown bus")
)

// Config is the resolved sharectl configuration.
type Config struct {
	// Origin overrides the process origin when set.
	Origin  string
	Channel string
	Timeout time.Duration
	Codec   string

	Bus       string
	Group     string
	Interface string
	TTL       int

	AdminAddr string
	// AdminCORSOrigins are browser origins allowed on the admin routes.
	AdminCORSOrigins []string

	Heartbeat time.Duration
	ID        protocol.NullID
	// IDSet marks ID as configured; a configured "none" serves no session.
	IDSet     bool
	IDFile    string
	Interval  time.Duration
	Threshold uint64
}

func Default() Config {
	udp := bus.DefaultUDPConfig()
	return Config{
		Channel:   sharer.DefaultChannel,
		Timeout:   sharer.DefaultTimeout,
		Codec:     protocol.JSON.Name(),
		Bus:       BusUDP,
		Group:     udp.Group,
		TTL:       udp.TTL,
		Heartbeat: service.DefaultHolderConfig().HeartbeatInterval,
		Interval:  time.Second,
		Threshold: 2,
	}
}

type fileConfig struct {
	Origin    string   `toml:"origin" yaml:"origin"`
	Channel   string   `toml:"channel" yaml:"channel"`
	Timeout   string   `toml:"timeout" yaml:"timeout"`
	TimeoutMS int64    `toml:"timeout_ms" yaml:"timeout_ms"`
	Codec     string   `toml:"codec" yaml:"codec"`
	Bus       string   `toml:"bus" yaml:"bus"`
	Group     string   `toml:"group" yaml:"group"`
	Interface string   `toml:"interface" yaml:"interface"`
	TTL       int      `toml:"ttl" yaml:"ttl"`
	AdminAddr string   `toml:"admin_addr" yaml:"admin_addr"`
	AdminCORS []string `toml:"admin_cors_origins" yaml:"admin_cors_origins"`
	Heartbeat string   `toml:"heartbeat" yaml:"heartbeat"`
	ID        any      `toml:"id" yaml:"id"`
	IDFile    string   `toml:"id_file" yaml:"id_file"`
	Interval  string   `toml:"interval" yaml:"interval"`
	Threshold uint64   `toml:"threshold" yaml:"threshold"`
}

// Load reads path on top of Default. Files ending in .yaml or .yml are
// YAML; anything else is TOML. Only keys present in the file override.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	defined, err := decodeFile(path, &raw)
	if err != nil {
		return Config{}, err
	}

	if defined("origin") {
		cfg.Origin = strings.TrimSpace(raw.Origin)
	}
	if defined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if defined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if defined("timeout_ms") {
		cfg.Timeout = time.Duration(raw.TimeoutMS) * time.Millisecond
	}
	if defined("codec") {
		cfg.Codec = strings.ToLower(strings.TrimSpace(raw.Codec))
	}
	if defined("bus") {
		cfg.Bus = strings.ToLower(strings.TrimSpace(raw.Bus))
	}
	if defined("group") {
		cfg.Group = strings.TrimSpace(raw.Group)
	}
	if defined("interface") {
		cfg.Interface = strings.TrimSpace(raw.Interface)
	}
	if defined("ttl") {
		cfg.TTL = raw.TTL
	}
	if defined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORS)
	}
	if defined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return Config{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Heartbeat = d
	}
	if defined("id") {
		id, err := parseID(raw.ID)
		if err != nil {
			return Config{}, fmt.Errorf("parse id: %w", err)
		}
		cfg.ID = id
		cfg.IDSet = true
	}
	if defined("id_file") {
		cfg.IDFile = strings.TrimSpace(raw.IDFile)
	}
	if defined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}
	if defined("threshold") {
		cfg.Threshold = raw.Threshold
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseID accepts the id as a number or a string; null means no session.
func parseID(v any) (protocol.NullID, error) {
	switch v := v.(type) {
	case nil:
		return protocol.None(), nil
	case string:
		return service.ParseID(v)
	default:
		return service.ParseID(fmt.Sprint(v))
	}
}

func decodeFile(path string, out *fileConfig) (func(string) bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		var keys map[string]any
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return func(key string) bool {
			_, ok := keys[key]
			return ok
		}, nil
	default:
		meta, err := toml.DecodeFile(path, out)
		if err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return func(key string) bool { return meta.IsDefined(key) }, nil
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Channel) == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if _, err := protocol.CodecByName(cfg.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.Origin) != "" {
		if _, err := origin.Normalize(cfg.Origin); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	switch cfg.Bus {
	case BusUDP:
		if strings.TrimSpace(cfg.Group) == "" {
			return fmt.Errorf("%w: group is required for the udp bus", ErrInvalidConfig)
		}
	case BusMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBus, cfg.Bus)
	}
	for _, raw := range cfg.AdminCORSOrigins {
		if _, err := origin.Web(raw); err != nil {
			return fmt.Errorf("%w: admin cors origin: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.IDSet && cfg.IDFile != "" {
		return fmt.Errorf("%w: id and id_file are mutually exclusive", ErrInvalidConfig)
	}
	if !cfg.IDSet && cfg.IDFile == "" && cfg.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	return nil
}
