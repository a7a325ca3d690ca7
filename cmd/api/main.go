package main

import (
	"context"
	"database/sql"
	"log"
	"path/filepath"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docsign/internal/config"
	"docsign/internal/database"
	"docsign/internal/database/migration"
	handlers "docsign/internal/http/handler"
	"docsign/internal/http/middleware"
	"docsign/internal/mailer"
	"docsign/internal/otel"
	"docsign/internal/pdf"
	"docsign/internal/repository"
	"docsign/internal/repository/jsonfile"
	"docsign/internal/repository/postgres"
	"docsign/internal/service"
	"docsign/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	ctx := context.Background()

	// Tracing bootstrap; disabled via OTEL_SDK_DISABLED=true
	shutdownTracing, err := otel.Init(ctx, time.Local)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	// Record store: postgres for real deployments, jsonfile for single-node
	// setups without a database.
	var db *sql.DB
	var recordRepo repository.RecordRepository
	switch cfg.StoreDriver {
	case "jsonfile":
		store, err := jsonfile.NewRecordFile(filepath.Join(cfg.DataDir, "records.json"))
		if err != nil {
			log.Fatalf("failed to open record store: %v", err)
		}
		recordRepo = store
	default:
		db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()

		migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := migration.EnsureMigrated(migCtx, db, time.Local, cfg.Database.Host); err != nil {
			cancel()
			log.Fatalf("failed to migrate database: %v", err)
		}
		cancel()
		recordRepo = postgres.NewRecordPostgres(db)
	}

	// Blob storage: minio for object stores, fs for local disk.
	var objStore storage.Storage
	switch cfg.StorageDriver {
	case "fs":
		objStore, err = storage.NewFS(filepath.Join(cfg.DataDir, "blobs"))
	default:
		objStore, err = storage.NewMinIO(cfg.MinIO)
	}
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}

	notifier, err := mailer.NewSMTP(cfg.SMTP)
	if err != nil {
		log.Fatalf("failed to initialize mailer: %v", err)
	}

	signSvc := service.NewSigningService(
		objStore,
		recordRepo,
		pdf.NewInjector(),
		pdf.NewMerger(),
		notifier,
		cfg.BaseURL,
	)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	// Prometheus request metrics and the /metrics endpoint
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMW, err := middleware.NewPrometheusMiddleware(promReg)
	if err != nil {
		log.Fatalf("failed to initialize metrics: %v", err)
	}
	app.Use(promMW.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	// Session-backed auth gate for the document management routes
	sessStore := session.New()
	gate := middleware.RequireAuth(sessStore, cfg.Auth.Token)
	handlers.RegisterAuthRoutes(app, sessStore, cfg.Auth.Username, cfg.Auth.Password)

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, db, signSvc, gate)

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
