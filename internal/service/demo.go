package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/sharer"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DemoConfig runs a counter holder and a client in one process.
type DemoConfig struct {
	Sharer    sharer.Config
	Interval  time.Duration
	Threshold uint64
	Rounds    int
	AskEvery  time.Duration
}

func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		Sharer:    sharer.DefaultConfig(),
		Interval:  time.Second,
		Threshold: 2,
		Rounds:    5,
		AskEvery:  time.Second,
	}
}

// RunDemo starts a holder on an in-process bus and asks it Rounds times,
// writing one line per answer to out.
func RunDemo(ctx context.Context, cfg DemoConfig, clk clock.Clock, out io.Writer) error {
	if clk == nil {
		clk = clock.Real()
	}
	hub := bus.NewMemoryHub(origin.Current())
	hcfg := DefaultHolderConfig()
	hcfg.ID = "demo-holder"
	hcfg.Sharer = cfg.Sharer
	hcfg.HeartbeatInterval = 0
	svc := NewHolderService(hcfg, hub, CounterFeed{Clock: clk, Interval: cfg.Interval, Threshold: cfg.Threshold}, clk)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	g.Go(func() error { return svc.Run(runCtx) })
	g.Go(func() error {
		defer cancel()
		select {
		case <-svc.Ready():
		case <-runCtx.Done():
			return nil
		}
		for round := 1; round <= cfg.Rounds; round++ {
			if err := sleep(runCtx, clk, cfg.AskEvery); err != nil {
				return nil
			}
			s, err := Ask(runCtx, cfg.Sharer, hub, clk)
			if err != nil {
				if runCtx.Err() != nil {
					return nil
				}
				return err
			}
			log.Debug().Int("round", round).Stringer("state", s.State()).Msg("service.RunDemo asked")
			if _, err := fmt.Fprintf(out, "%d: %s\n", round, Describe(s.SessionID())); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}
