package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emberlink/ember/internal/config"
	"github.com/emberlink/ember/internal/directory"
	"github.com/emberlink/ember/internal/events"
	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/match"
	"github.com/emberlink/ember/internal/matcher"
	"github.com/emberlink/ember/internal/presence"
	"github.com/emberlink/ember/internal/queue"
	"github.com/emberlink/ember/internal/relay"
	"github.com/emberlink/ember/internal/room"
	"github.com/emberlink/ember/internal/scoring"
	"github.com/emberlink/ember/internal/service"
	"github.com/emberlink/ember/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.Component("main")

	bus := events.NewBus(events.Config{
		Buffer:     cfg.Events.Buffer,
		RetryLimit: cfg.Events.RetryLimit,
	})
	guard := presence.NewGuard()

	dir := directory.NewClient(directory.Config{
		BaseURL:          cfg.Directory.BaseURL,
		Timeout:          cfg.Directory.Timeout,
		RetryAttempts:    cfg.Directory.RetryAttempts,
		RetryMaxInterval: cfg.Directory.RetryMaxInterval,
	})

	weights := scoring.Weights{
		Age:         cfg.Scoring.Age,
		Distance:    cfg.Scoring.Distance,
		Interests:   cfg.Scoring.Interests,
		Languages:   cfg.Scoring.Languages,
		Ethnicity:   cfg.Scoring.Ethnicity,
		Intent:      cfg.Scoring.Intent,
		FamilyPlans: cfg.Scoring.FamilyPlans,
		Religion:    cfg.Scoring.Religion,
		Education:   cfg.Scoring.Education,
		Politics:    cfg.Scoring.Politics,
		Lifestyle:   cfg.Scoring.Lifestyle,
		Premium:     cfg.Scoring.Premium,
	}

	// Wiring order follows the dependency chain; the two cycles (relay ↔
	// registry, queue ↔ matcher) close through setters after construction.
	var coordinator *service.Coordinator
	rly := relay.NewRelay(relay.Config{
		BufferSize: cfg.Relay.BufferSize,
		BufferTTL:  cfg.Relay.BufferTTL,
	}, func(id uuid.UUID) bool { return coordinator.ReceiptsAllowed(id) })

	store := queue.NewStore(guard, bus, nil)
	registry := room.NewRegistry(room.Config{
		GracePeriod: cfg.Room.GracePeriod,
		IdleTimeout: cfg.Room.IdleTimeout,
	}, guard, store, rly, bus)
	rly.SetTouch(registry.Touch)

	lifecycle := match.NewLifecycle(match.Config{
		AcceptTimeout: cfg.Match.AcceptTimeout,
		RetainFor:     cfg.Match.RetainFor,
	}, guard, store, registry, bus)

	sweeper := matcher.New(matcher.Config{
		SweepInterval:  cfg.Matcher.SweepInterval,
		CandidateLimit: cfg.Matcher.CandidateLimit,
		StarveAfter:    cfg.Matcher.StarveAfter,
	}, store, lifecycle, weights)
	store.SetWake(sweeper.Wake())

	coordinator = service.NewCoordinator(dir, store, lifecycle, registry, rly)

	hub := ws.NewHub()
	notifier := ws.NewHubNotifier(hub)
	lifecycle.SetNotifier(notifier)
	registry.SetNotifier(notifier)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws", ws.ServeWS(hub, coordinator, ws.Options{
		JWTSecret:         cfg.Auth.JWTSecret,
		AuthTimeout:       cfg.Auth.Timeout,
		SendBuffer:        cfg.Session.SendBuffer,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		HeartbeatMisses:   cfg.Session.HeartbeatMisses,
	}))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The actors outlive the signal: the drains below still need their
	// loops running, so those stop only once the drain sequence is done.
	actorCtx, stopActors := context.WithCancel(context.Background())
	defer stopActors()
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { store.Run(actorCtx); return nil })
	g.Go(func() error { lifecycle.Run(actorCtx); return nil })
	g.Go(func() error { registry.Run(actorCtx); return nil })
	g.Go(func() error { sweeper.Run(sweepCtx); return nil })
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()

		// Drain order: stop accepting frames and stop pairing, close
		// rooms so clients see room.ended, expire pending matches, then
		// stop the actor loops and the bus.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		stopSweeper()

		registry.DrainAll()
		lifecycle.Drain()
		hub.Shutdown()
		stopActors()
		return bus.Close()
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("shutdown complete")
}
