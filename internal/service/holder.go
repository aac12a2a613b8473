package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/sessionsharer/internal/bus"
	"github.com/danmuck/sessionsharer/internal/clock"
	"github.com/danmuck/sessionsharer/internal/loop"
	"github.com/danmuck/sessionsharer/internal/observability"
	"github.com/danmuck/sessionsharer/internal/origin"
	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/danmuck/sessionsharer/internal/sharer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrFeedRequired = errors.New("service: feed required")

// HolderConfig configures the holder daemon.
type HolderConfig struct {
	ID              string
	Sharer          sharer.Config
	AdminListenAddr string
	// AdminCORSOrigins lists browser origins allowed to call the admin
	// routes. Empty falls back to the process origin when it is http(s).
	AdminCORSOrigins []string
	// HeartbeatInterval logs the held id periodically; zero disables it.
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	Backoff           BackoffConfig
}

func DefaultHolderConfig() HolderConfig {
	return HolderConfig{
		ID:                "holder-" + uuid.NewString()[:8],
		Sharer:            sharer.DefaultConfig(),
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		Backoff:           DefaultBackoffConfig(),
	}
}

// HolderService keeps one sharer.Holder alive on its own loop and feeds
// it from a Feed. Published values are kept while the Holder is down and
// served as soon as it comes up.
type HolderService struct {
	cfg    HolderConfig
	opener bus.Opener
	feed   Feed
	clk    clock.Clock
	loop   *loop.Loop
	router *gin.Engine

	mu     sync.Mutex
	holder *sharer.Holder
	value  protocol.NullID

	appeared time.Time
	ready    chan struct{}
}

func NewHolderService(cfg HolderConfig, opener bus.Opener, feed Feed, clk clock.Clock) *HolderService {
	cfg.Sharer = cfg.Sharer.WithDefaults()
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = DefaultHolderConfig().ID
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := &HolderService{
		cfg:      cfg,
		opener:   opener,
		feed:     feed,
		clk:      clk,
		loop:     loop.New(),
		appeared: clk.Now(),
		ready:    make(chan struct{}),
	}
	s.router = newAdminRouter(cfg.ID, cfg.Sharer.Channel, adminCORSOrigins(cfg.AdminCORSOrigins))
	s.registerRoutes(s.router)
	return s
}

// Run blocks until ctx ends or a component fails.
func (s *HolderService) Run(ctx context.Context) error {
	if s.feed == nil {
		return ErrFeedRequired
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop.Run(ctx) })
	g.Go(func() error { return s.keepHolder(ctx) })
	g.Go(func() error { return s.feed.Run(ctx, s.Publish) })
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		g.Go(func() error { return s.serveAdmin(ctx) })
	}
	if s.cfg.HeartbeatInterval > 0 {
		g.Go(func() error { return s.heartbeat(ctx) })
	}

	err := g.Wait()
	s.closeHolder()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Str("holder", s.cfg.ID).Err(err).Msg("service.HolderService stopped")
	return err
}

// Publish makes v the served id. Safe for concurrent use.
func (s *HolderService) Publish(v protocol.NullID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	if s.holder != nil {
		s.holder.Update(v)
	}
}

// Current returns the published id and whether a Holder is serving it.
func (s *HolderService) Current() (protocol.NullID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.holder != nil
}

// Ready is closed once the Holder is serving.
func (s *HolderService) Ready() <-chan struct{} {
	return s.ready
}

func (s *HolderService) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *HolderService) keepHolder(ctx context.Context) error {
	attempt := 0
	for {
		err := s.startHolder()
		if err == nil {
			return nil
		}
		attempt++
		log.Warn().
			Str("holder", s.cfg.ID).
			Int("attempt", attempt).
			Err(err).
			Msg("service.HolderService holder start failed")
		if err := waitBackoff(ctx, s.clk, s.cfg.Backoff, attempt); err != nil {
			return err
		}
	}
}

func (s *HolderService) startHolder() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := sharer.NewHolder(s.cfg.Sharer, s.opener, s.loop, s.value)
	if err != nil {
		return err
	}
	s.holder = h
	close(s.ready)
	return nil
}

func (s *HolderService) closeHolder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != nil {
		s.holder.Close()
		s.holder = nil
	}
}

func (s *HolderService) heartbeat(ctx context.Context) error {
	ticker := s.clk.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, serving := s.Current()
			log.Info().
				Str("holder", s.cfg.ID).
				Str("channel", s.cfg.Sharer.Channel).
				Stringer("session_id", v).
				Bool("serving", serving).
				Msg("service.HolderService heartbeat")
		}
	}
}

func (s *HolderService) serveAdmin(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.AdminListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("holder", s.cfg.ID).Str("addr", srv.Addr).Msg("service.HolderService admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newAdminRouter(id, channel string, corsOrigins []string) *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, id, channel))
	r.Use(observability.RequestMetricsMiddleware(id))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPut},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

// adminCORSOrigins puts configured origins in browser form and drops the
// ones that are not http(s). With none configured the process origin is
// used if a browser could send it.
func adminCORSOrigins(configured []string) []string {
	if len(configured) == 0 {
		if web, err := origin.Web(origin.Current()); err == nil {
			return []string{web}
		}
		return nil
	}
	out := make([]string, 0, len(configured))
	for _, raw := range configured {
		web, err := origin.Web(raw)
		if err != nil {
			log.Warn().Err(err).Str("origin", raw).Msg("service.HolderService ignoring cors origin")
			continue
		}
		out = append(out, web)
	}
	return out
}
