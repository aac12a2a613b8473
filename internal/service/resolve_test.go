package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/danmuck/sessionsharer/internal/sharer"
	"github.com/danmuck/sessionsharer/internal/testutil/testlog"
)

func TestDescribe(t *testing.T) {
	testlog.Start(t)
	if got := Describe(protocol.Some(12)); got != "12" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Describe(protocol.None()); got != NotLoggedIn {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestAskWithoutHolderGivesUp(t *testing.T) {
	testlog.Start(t)
	hub := bus.NewMemoryHub(origin.Current())
	cfg := sharer.DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond

	s, err := Ask(context.Background(), cfg, hub, nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if s.State() != sharer.StateGaveUp || Describe(s.SessionID()) != NotLoggedIn {
		t.Fatalf("unexpected: %s %s", s.State(), s.SessionID())
	}
	if hub.Subscribers(sharer.DefaultChannel) != 0 {
		t.Fatalf("requester still subscribed")
	}
}

func TestAskCancelledReleasesRequester(t *testing.T) {
	testlog.Start(t)
	hub := bus.NewMemoryHub(origin.Current())
	cfg := sharer.DefaultConfig()
	cfg.Timeout = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s, err := Ask(ctx, cfg, hub, nil)
	if err == nil {
		t.Fatalf("expected context error")
	}
	if s != nil && s.State() == sharer.StateTrying {
		t.Fatalf("source left trying")
	}
	if hub.Subscribers(sharer.DefaultChannel) != 0 {
		t.Fatalf("requester still subscribed")
	}
}

func TestRunDemo(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultDemoConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Threshold = 0
	cfg.Rounds = 3
	cfg.AskEvery = 10 * time.Millisecond
	cfg.Sharer.Timeout = time.Second

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := RunDemo(ctx, cfg, nil, &out); err != nil {
		t.Fatalf("demo: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", out.String())
	}
	for i, line := range lines {
		if !strings.HasPrefix(line, string(rune('1'+i))+": ") {
			t.Fatalf("line %d malformed: %q", i, line)
		}
	}
}
