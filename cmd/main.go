package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tldrpost/internal/config"
	"tldrpost/internal/database"
	"tldrpost/internal/discovery"
	"tldrpost/internal/ollama"
	"tldrpost/internal/page"
	"tldrpost/internal/ratelimiter"
	"tldrpost/internal/registry"
	"tldrpost/internal/scheduler"
	"tldrpost/internal/server"
	"tldrpost/internal/summarizer"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	client := ollama.NewClient(cfg.OllamaURL)
	models := registry.New(client, db, cfg.DefaultModel, log)

	if err = models.Initialize(ctx); err != nil {
		log.ErrorContext(ctx, "Failed to load models so summaries are disabled",
			"error", err,
			"ollamaURL", cfg.OllamaURL)
	}

	doc, err := page.Fetch(
		ctx,
		&http.Client{Timeout: cfg.FetchTimeout},
		cfg.PageURL,
		page.Selectors{Block: cfg.BlockSelector, Feed: cfg.FeedSelector},
		log,
	)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch page",
			"error", err,
			"pageURL", cfg.PageURL)

		return
	}
	log.InfoContext(ctx, "Page is fetched",
		"pageURL", cfg.PageURL)

	var summaries summarizer.Summarizer = summarizer.NewOllamaSummarizer(client)
	if cfg.SummaryInterval > 0 {
		limiter := ratelimiter.New(summaries, cfg.SummaryInterval, log)
		defer limiter.Stop()

		summaries = limiter
	}

	loop := discovery.New(doc, models, summaries, cfg.DetailPathMarker, log)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()

	sched := scheduler.New(ctx, cfg.ModelsRefreshSpec, models, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.ModelsRefreshSpec)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"enabled", sched.Enabled(),
		"spec", cfg.ModelsRefreshSpec,
		"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

	srv := server.New(cfg.ListenAddr, loop, models, log)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(ctx)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
		cancel()

		err = <-serverDone
	case err = <-serverDone:
		cancel()
	}

	if err != nil {
		log.ErrorContext(ctx, "HTTP server is stopped",
			"error", err,
			"addr", cfg.ListenAddr)
	}

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())

	<-loopDone
}
