// Package origin holds the process-wide origin used to scope accepted
// messages. The value is resolved once and never changes afterwards.
package origin

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
)

const (
	EnvOrigin = "SESSIONSHARER_ORIGIN"
	Default   = "udp://localhost:0"
)

var ErrInvalidOrigin = errors.New("origin: invalid origin")

var (
	once    sync.Once
	current string
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// Init records raw as the origin if it has not been resolved yet. It
// reports whether raw became the process origin.
func Init(raw string) (bool, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return false, err
	}
	applied := false
	once.Do(func() {
		current = normalized
		applied = true
	})
	return applied, nil
}

// Current returns the cached origin, resolving it on first use from
// SESSIONSHARER_ORIGIN or Default.
func Current() string {
	once.Do(func() {
		current = resolve()
	})
	return current
}

func resolve() string {
	if raw := strings.TrimSpace(os.Getenv(EnvOrigin)); raw != "" {
		if normalized, err := Normalize(raw); err == nil {
			return normalized
		}
	}
	normalized, _ := Normalize(Default)
	return normalized
}

// Normalize reduces raw to scheme://host:port with a lowercase scheme and
// host. Paths, queries and user info are discarded.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if scheme == "" || host == "" {
		return "", fmt.Errorf("%w: %q needs scheme and host", ErrInvalidOrigin, raw)
	}
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	if port == "" {
		port = "0"
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}

// Web returns raw as a browser sends it in the Origin header: normalized,
// http or https only, with the scheme's default port left out.
func Web(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	scheme, hostport, _ := strings.Cut(normalized, "://")
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %q is not an http origin", ErrInvalidOrigin, raw)
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if port == defaultPorts[scheme] {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		return scheme + "://" + host, nil
	}
	return normalized, nil
}
