package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"billing-core/controllers"
	"billing-core/database"
	"billing-core/directory"
	"billing-core/logger"
	"billing-core/middlewares"
	"billing-core/notify"
	"billing-core/reconciler"
	"billing-core/routes"
	"billing-core/scheduler"
	"billing-core/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	log, err := logger.New()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// ---- Database
	db, err := database.Connect()
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalw("migration failed", "error", err)
	}

	// ---- Core components (single store handle, passed explicitly)
	dir := directory.NewDBDirectory(db)
	st := store.New(db, dir)

	var notifier notify.Notifier
	if url := os.Getenv("NOTIFY_URL"); url != "" {
		notifier = notify.NewHTTPNotifier(url, log)
	} else {
		notifier = notify.NewLogNotifier(log)
	}

	verifier, err := reconciler.NewVerifier(os.Getenv("WEBHOOK_SIGNING_SECRET"))
	if err != nil {
		log.Fatalw("webhook verifier init failed", "error", err)
	}
	rec := reconciler.New(st, log)

	// ---- Recurring scheduler (background, stops on shutdown signal)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	interval := time.Duration(envInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second
	sched := scheduler.New(st, log, interval)
	go sched.Run(ctx)

	// ---- Limits (configurable via env)
	bodyLimitBytes := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler(log),
		BodyLimit:    bodyLimitBytes,
	})

	// ---- CORS
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Idempotency-Key",
	}))

	// ---- Global rate limiter (tune via env)
	rlMax := envInt("RATE_LIMIT_MAX", 60)
	rlWindow := time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	app.Use(limiter.New(limiter.Config{
		Max:        rlMax,
		Expiration: rlWindow,
	}))

	// ---- Routes
	invCtrl := controllers.NewInvoiceController(st, notifier, log)
	billingCtrl := controllers.NewBillingController(st, verifier, rec, log)
	routes.Register(app, db, invCtrl, billingCtrl)

	// ---- Start; shut down cleanly when the scheduler context is cancelled
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Infow("starting API server", "port", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalw("server exited", "error", err)
	}
}
