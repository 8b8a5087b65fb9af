package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/casework/internal/api"
	"example.com/casework/internal/auth"
	"example.com/casework/internal/config"
	"example.com/casework/internal/engine"
	"example.com/casework/internal/gis"
	"example.com/casework/internal/notify"
	"example.com/casework/internal/ontology"
	"example.com/casework/internal/persistence/postgres"
	"example.com/casework/internal/render"
	"example.com/casework/internal/scheduler"
	httptransport "example.com/casework/internal/transport/http"
	"example.com/casework/internal/workweek"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	graph, err := ontology.LoadFile(cfg.OntologyPath)
	if err != nil {
		log.Fatalf("failed to load ontology %s: %v", cfg.OntologyPath, err)
	}
	repo := ontology.NewCachedRepository(graph, cfg.OntologyCache)
	watcher := ontology.NewWatcher(cfg.OntologyPath, graph, repo, nil)

	calendar, err := workweek.LoadFile(cfg.HolidaysPath)
	if err != nil {
		log.Fatalf("failed to load holidays %s: %v", cfg.HolidaysPath, err)
	}

	var gisClient engine.GISClient
	if cfg.GISURL != "" {
		gisClient = gis.New(cfg.GISURL)
	}

	store := postgres.NewStore(pool)
	producer := notify.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	service := api.NewService(store, producer, api.EngineConfig{
		Repository:      repo,
		Calculator:      engine.NewDueDateCalculator(cfg.TimeLapseMode, cfg.Production(), calendar),
		Scheduler:       scheduler.New(cfg.SchedulerURL, cfg.SchedulerToken),
		Renderer:        render.New(cfg.TemplateDir),
		GIS:             gisClient,
		CallbackBaseURL: cfg.CallbackBaseURL,
		StrictOccurDays: cfg.StrictOccurDays,
	}, cfg.SaveRetries, nil)

	handler := api.NewHandler(service, repo)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		},
	)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return watcher.Run(groupCtx)
	})

	group.Go(func() error {
		log.Printf("casework-api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("casework-api exited: %v", err)
	}
}
