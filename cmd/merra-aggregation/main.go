package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/merra-aggregation/internal/annotate"
	httpapi "github.com/i474232898/merra-aggregation/internal/api/http"
	"github.com/i474232898/merra-aggregation/internal/config"
	"github.com/i474232898/merra-aggregation/internal/merra"
	"github.com/i474232898/merra-aggregation/internal/merra/archive"
	"github.com/i474232898/merra-aggregation/internal/scheduler"
	"github.com/i474232898/merra-aggregation/internal/store"
	"github.com/i474232898/merra-aggregation/internal/table"
)

func main() {
	serve := flag.Bool("serve", false, "re-run the pipeline every RUN_INTERVAL and serve aggregates over HTTP")
	observations := flag.Bool("observations", false, "annotate the observation CSV given as argument")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-serve] [-observations] [existing.csv]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	input := flag.Arg(0)

	start := time.Now()
	defer func() {
		log.Printf("INFO: Time elapsed: %s", time.Since(start).Round(time.Millisecond))
	}()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// SQLite when a path is configured, otherwise aggregates live in memory.
	var st merra.Store
	if cfg.StorePath != "" {
		sqliteStore, err := store.NewSQLite(cfg.StorePath)
		if err != nil {
			log.Fatalf("failed to open store: %v", err)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	} else {
		st = store.NewMemoryStore(0)
	}

	// Archive client with resilience (rate limit + backoff + circuit breaker).
	arch, err := archive.NewOPeNDAP(cfg.ArchiveConfig())
	if err != nil {
		log.Fatalf("failed to create archive client: %v", err)
	}

	service := merra.NewService(arch, st, cfg.ServiceOptions())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *observations:
		if input == "" {
			flag.Usage()
			log.Fatalf("-observations needs the observation CSV as argument")
		}
		if _, _, err := annotate.File(ctx, input, service, cfg.FieldName); err != nil {
			log.Fatalf("annotation failed: %v", err)
		}
	case *serve:
		if err := runServer(ctx, cfg, service, st, input); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	default:
		if err := runOnce(ctx, cfg, service, input); err != nil {
			log.Fatalf("run failed: %v", err)
		}
	}
}

// runOnce runs the pipeline and merges the aggregates into the output table.
func runOnce(ctx context.Context, cfg *config.AppConfig, service *merra.Service, existing string) error {
	days, err := cfg.Days()
	if err != nil {
		return err
	}

	aggs, err := service.Run(ctx, cfg.Locations, days)
	if err != nil {
		return err
	}

	source, output := cfg.OutputName, cfg.OutputName
	if existing != "" {
		source, output = existing, table.OutputPath(existing)
	}

	tbl, err := table.ReadOrNew(source)
	if err != nil {
		return fmt.Errorf("loading %s: %w", source, err)
	}
	tbl.Merge(aggs...)
	if err := tbl.Write(output); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	log.Printf("INFO: wrote %d dates x %d columns to %s", len(tbl.Dates()), len(tbl.Columns()), output)
	return nil
}

func runServer(ctx context.Context, cfg *config.AppConfig, service *merra.Service, st merra.Store, existing string) error {
	// Scheduler that periodically re-runs the pipeline.
	sched := scheduler.New(func(ctx context.Context) error {
		return runOnce(ctx, cfg, service, existing)
	}, cfg.RunInterval, 0)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "merra-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		runs, lastErr := sched.Status()
		body := fiber.Map{
			"status":  "ok",
			"service": "merra-aggregation",
			"field":   service.Options().FieldID,
			"runs":    runs,
		}
		if lastErr != nil {
			body["last_error"] = lastErr.Error()
		}
		return c.JSON(body)
	})

	// API routes.
	httpapi.RegisterRoutes(app, st)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
