package sharer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/danmuck/sessionsharer/internal/testutil/testlog"
)

func TestSourceTransitionsAtMostOnce(t *testing.T) {
	testlog.Start(t)
	sequences := [][]Passthrough{
		{IDEvent(protocol.Some(5)), TimedOut(), IDEvent(protocol.Some(6))},
		{TimedOut(), IDEvent(protocol.Some(5)), TimedOut()},
		{IDEvent(protocol.None()), IDEvent(protocol.Some(1))},
		{{Kind: 0}, IDEvent(protocol.Some(3)), TimedOut()},
	}
	for i, seq := range sequences {
		hub := newHub()
		exec := loop.NewManual()
		s, err := NewSource(testConfig(), hub, exec, newFakeClock(), identity, func(Passthrough) {})
		if err != nil {
			t.Fatalf("seq %d: new source: %v", i, err)
		}
		transitions := 0
		var firstState State
		var firstID protocol.NullID
		for _, p := range seq {
			if s.Drive(p) {
				transitions++
				if transitions == 1 {
					firstState, firstID = s.State(), s.SessionID()
				}
			}
		}
		if transitions != 1 {
			t.Fatalf("seq %d: transitions=%d", i, transitions)
		}
		if s.State() != firstState || s.SessionID() != firstID {
			t.Fatalf("seq %d: state moved after terminal: %s %s", i, s.State(), s.SessionID())
		}
		select {
		case <-s.Done():
		default:
			t.Fatalf("seq %d: done not closed", i)
		}
		if hub.Subscribers(DefaultChannel) != 0 {
			t.Fatalf("seq %d: requester not released on transition", i)
		}
	}
}

func TestSourceHappyPath(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	holderExec, clientExec := loop.NewManual(), loop.NewManual()
	h, err := NewHolder(testConfig(), hub, holderExec, protocol.Some(42))
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer h.Close()

	s, err := Ask(testConfig(), hub, clientExec, clk)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if s.State() != StateTrying || s.SessionID().Valid {
		t.Fatalf("unexpected initial state: %s %s", s.State(), s.SessionID())
	}
	drainAll(holderExec, clientExec)
	if s.State() != StateSessionID || s.SessionID() != protocol.Some(42) {
		t.Fatalf("unexpected state: %s %s", s.State(), s.SessionID())
	}
	if clk.PendingCount() != 0 {
		t.Fatalf("timer not cancelled: pending=%d", clk.PendingCount())
	}
	clk.Advance(time.Second)
	drainAll(holderExec, clientExec)
	if s.State() != StateSessionID {
		t.Fatalf("timeout after answer changed state: %s", s.State())
	}
}

func TestSourceNoHolderGivesUp(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	exec := loop.NewManual()
	s, err := Ask(testConfig(), hub, exec, clk)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	exec.Drain()
	clk.Advance(99 * time.Millisecond)
	exec.Drain()
	if s.State() != StateTrying {
		t.Fatalf("gave up early: %s", s.State())
	}
	clk.Advance(time.Millisecond)
	exec.Drain()
	if s.State() != StateGaveUp || s.SessionID().Valid {
		t.Fatalf("unexpected state: %s %s", s.State(), s.SessionID())
	}
}

func TestSourceLateResponseIgnored(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	holderExec, clientExec := loop.NewManual(), loop.NewManual()
	h, _ := NewHolder(testConfig(), hub, holderExec, protocol.Some(42))
	defer h.Close()

	var events []Passthrough
	var s *Source
	s, err := NewSource(testConfig(), hub, clientExec, clk, identity, func(p Passthrough) {
		events = append(events, p)
		s.Drive(p)
	})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	// Timeout is queued on the client before the holder gets to answer.
	clk.Advance(100 * time.Millisecond)
	holderExec.Drain()
	clientExec.Drain()

	if s.State() != StateGaveUp || s.SessionID().Valid {
		t.Fatalf("unexpected state: %s %s", s.State(), s.SessionID())
	}
	if len(events) != 1 || events[0] != TimedOut() {
		t.Fatalf("late response was forwarded: %v", events)
	}
	if s.Drive(IDEvent(protocol.Some(42))) {
		t.Fatalf("late response caused a transition")
	}
	if s.State() != StateGaveUp {
		t.Fatalf("state changed: %s", s.State())
	}
}

func TestSourceConfirmedNoSession(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	holderExec, clientExec := loop.NewManual(), loop.NewManual()
	h, _ := NewHolder(testConfig(), hub, holderExec, protocol.None())
	defer h.Close()

	s, _ := Ask(testConfig(), hub, clientExec, newFakeClock())
	drainAll(holderExec, clientExec)
	if s.State() != StateSessionID {
		t.Fatalf("expected confirmed answer, got %s", s.State())
	}
	if s.SessionID().Valid {
		t.Fatalf("expected no session, got %s", s.SessionID())
	}
}

func TestSourceLiveUpdate(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	holderExec := loop.NewManual()
	h, _ := NewHolder(testConfig(), hub, holderExec, protocol.Some(1))
	defer h.Close()

	earlyExec := loop.NewManual()
	early, _ := Ask(testConfig(), hub, earlyExec, clk)
	drainAll(holderExec, earlyExec)
	if early.SessionID() != protocol.Some(1) {
		t.Fatalf("unexpected early id: %s", early.SessionID())
	}

	h.Update(protocol.Some(2))

	lateExec := loop.NewManual()
	late, _ := Ask(testConfig(), hub, lateExec, clk)
	drainAll(holderExec, earlyExec, lateExec)
	if late.SessionID() != protocol.Some(2) {
		t.Fatalf("unexpected late id: %s", late.SessionID())
	}
	if early.SessionID() != protocol.Some(1) || early.State() != StateSessionID {
		t.Fatalf("terminal source affected by update: %s %s", early.State(), early.SessionID())
	}
}

func TestSourceForeignResponseIgnored(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	exec := loop.NewManual()
	s, _ := Ask(testConfig(), hub, exec, clk)

	hub.Inject(DefaultChannel, bus.Event{Origin: foreignOrigin, Data: []byte(`{"Response":666}`)})
	exec.Drain()
	if s.State() != StateTrying {
		t.Fatalf("foreign response changed state: %s", s.State())
	}
	hub.Inject(DefaultChannel, bus.Event{Origin: origin.Current(), Data: []byte(`{"Response":7}`)})
	exec.Drain()
	if s.SessionID() != protocol.Some(7) {
		t.Fatalf("unexpected id: %s", s.SessionID())
	}
}

func TestSourceFirstHolderWins(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	first, second, client := loop.NewManual(), loop.NewManual(), loop.NewManual()
	h1, _ := NewHolder(testConfig(), hub, first, protocol.Some(10))
	defer h1.Close()
	h2, _ := NewHolder(testConfig(), hub, second, protocol.Some(20))
	defer h2.Close()

	s, _ := Ask(testConfig(), hub, client, newFakeClock())
	second.Drain()
	first.Drain()
	client.Drain()
	if s.SessionID() != protocol.Some(20) {
		t.Fatalf("expected first delivered answer to win, got %s", s.SessionID())
	}
}

func TestSourceGivesUpWhenAskingFails(t *testing.T) {
	testlog.Start(t)
	for name, opener := range map[string]bus.Opener{
		"open": refusingOpener,
		"post": deafOpener,
	} {
		s, err := Ask(testConfig(), opener, loop.NewManual(), newFakeClock())
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, ErrChannelCreationFailed) && !errors.Is(err, ErrPostFailed) {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if s == nil || s.State() != StateGaveUp || s.SessionID().Valid {
			t.Fatalf("%s: expected GaveUp source, got %+v", name, s)
		}
	}
}

func TestSourceTransformIntoOwnerEvents(t *testing.T) {
	testlog.Start(t)
	type ownerMsg struct {
		pass Passthrough
	}
	hub := newHub()
	holderExec, clientExec := loop.NewManual(), loop.NewManual()
	h, _ := NewHolder(testConfig(), hub, holderExec, protocol.Some(3))
	defer h.Close()

	var inbox []ownerMsg
	s, err := NewSource(testConfig(), hub, clientExec, newFakeClock(),
		func(p Passthrough) ownerMsg { return ownerMsg{pass: p} },
		func(m ownerMsg) { inbox = append(inbox, m) },
	)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	drainAll(holderExec, clientExec)
	if len(inbox) != 1 {
		t.Fatalf("unexpected inbox: %v", inbox)
	}
	if s.State() != StateTrying {
		t.Fatalf("source must wait for its owner to drive it")
	}
	s.Drive(inbox[0].pass)
	if s.SessionID() != protocol.Some(3) {
		t.Fatalf("unexpected id: %s", s.SessionID())
	}
}

func TestSourceClose(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	s, _ := Ask(testConfig(), hub, loop.NewManual(), clk)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.State() != StateGaveUp {
		t.Fatalf("unexpected state: %s", s.State())
	}
	if clk.PendingCount() != 0 || hub.Subscribers(DefaultChannel) != 0 {
		t.Fatalf("close leaked resources")
	}
	s.Close()
}

func TestResolveWithRunningLoops(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	holderLoop := loop.New()
	go holderLoop.Run(ctx)
	defer holderLoop.Close()
	var h *Holder
	var herr error
	if err := holderLoop.Do(ctx, func() { h, herr = NewHolder(testConfig(), hub, holderLoop, protocol.Some(42)) }); err != nil {
		t.Fatalf("holder loop: %v", err)
	}
	if herr != nil {
		t.Fatalf("new holder: %v", herr)
	}
	defer h.Close()

	clientLoop := loop.New()
	go clientLoop.Run(ctx)
	defer clientLoop.Close()

	cfg := testConfig()
	cfg.Timeout = 2 * time.Second
	s, err := Resolve(ctx, cfg, hub, clientLoop, clock.Real())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.SessionID() != protocol.Some(42) {
		t.Fatalf("unexpected id: %s (%s)", s.SessionID(), s.State())
	}
}

func TestResolveTimesOutWithoutHolder(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l := loop.New()
	go l.Run(ctx)
	defer l.Close()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	s, err := Resolve(ctx, cfg, hub, l, clock.Real())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.State() != StateGaveUp {
		t.Fatalf("unexpected state: %s", s.State())
	}
}

func TestResolveCancelledWhileQueuedReleasesNothing(t *testing.T) {
	testlog.Start(t)
	hub := newHub()
	clk := newFakeClock()
	l := loop.New()
	go l.Run(context.Background())
	defer l.Close()

	gate := make(chan struct{})
	l.Post(func() { <-gate })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	type result struct {
		s   *Source
		err error
	}
	results := make(chan result, 1)
	go func() {
		s, err := Resolve(ctx, testConfig(), hub, l, clk)
		results <- result{s, err}
	}()

	// Let Resolve give up on the queued ask before the loop reaches it.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	select {
	case r := <-results:
		if !errors.Is(r.err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", r.err)
		}
		if r.s != nil {
			t.Fatalf("expected no source, got %s", r.s.State())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("resolve did not return")
	}
	if n := hub.Subscribers(DefaultChannel); n != 0 {
		t.Fatalf("cancelled resolve left %d subscriptions", n)
	}
	if n := clk.PendingCount(); n != 0 {
		t.Fatalf("cancelled resolve left %d timers armed", n)
	}
}
