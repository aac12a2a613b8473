package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/config"
	"github.com/danmuck/sessionsharer/internal/logging"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var errUnknownCommand = errors.New("sharectl: unknown command")

const usage = `sharectl shares one session id between instances on a local bus.

Usage:
  sharectl hold [flags]   serve the session id until interrupted
  sharectl ask  [flags]   ask once and print the id or "Not Logged In"
  sharectl demo [flags]   run a holder and a client in one process

Run "sharectl <command> --help" for the flags of a command.
`

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "sharectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return nil
	}
	var err error
	switch args[0] {
	case "hold":
		err = runHold(ctx, args[1:], stderr)
	case "ask":
		err = runAsk(ctx, args[1:], stdout, stderr)
	case "demo":
		err = runDemo(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stderr, usage)
	default:
		err = fmt.Errorf("%w: %q", errUnknownCommand, args[0])
	}
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func runHold(ctx context.Context, args []string, stderr io.Writer) error {
	fs := pflag.NewFlagSet("sharectl hold", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := addCommonFlags(fs)
	addHoldFlags(fs, opts)
	cfg, err := opts.parse(fs, args)
	if err != nil {
		return err
	}

	opener, closeBus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	hc, err := cfg.HolderConfig()
	if err != nil {
		return err
	}
	clk := clock.Real()
	svc := service.NewHolderService(hc, opener, cfg.Feed(clk), clk)
	log.Info().
		Str("holder", hc.ID).
		Str("bus", cfg.Bus).
		Str("channel", hc.Sharer.Channel).
		Str("origin", origin.Current()).
		Msg("sharectl hold starting")
	return svc.Run(ctx)
}

func runAsk(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("sharectl ask", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := addCommonFlags(fs)
	cfg, err := opts.parse(fs, args)
	if err != nil {
		return err
	}

	opener, closeBus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	sc, err := cfg.SharerConfig()
	if err != nil {
		return err
	}
	s, err := service.Ask(ctx, sc, opener, clock.Real())
	if s == nil {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("sharectl ask did not settle")
	}
	_, werr := fmt.Fprintln(stdout, service.Describe(s.SessionID()))
	return werr
}

func runDemo(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("sharectl demo", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := addCommonFlags(fs)
	def := service.DefaultDemoConfig()
	rounds := fs.Int("rounds", def.Rounds, "number of asks before exiting")
	every := fs.Duration("every", def.AskEvery, "delay between asks")
	addHoldFlags(fs, opts)
	cfg, err := opts.parse(fs, args)
	if err != nil {
		return err
	}

	sc, err := cfg.SharerConfig()
	if err != nil {
		return err
	}
	return service.RunDemo(ctx, service.DemoConfig{
		Sharer:    sc,
		Interval:  cfg.Interval,
		Threshold: cfg.Threshold,
		Rounds:    *rounds,
		AskEvery:  *every,
	}, clock.Real(), stdout)
}

// openBus returns the configured bus and a func releasing it.
func openBus(ctx context.Context, cfg config.Config) (bus.Opener, func(), error) {
	switch cfg.Bus {
	case config.BusMemory:
		return bus.NewMemoryHub(origin.Current()), func() {}, nil
	default:
		b, err := bus.ListenUDP(ctx, cfg.UDPConfig())
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	}
}
