package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/frontdesk-labs/frontdesk/libs/auth"
	"github.com/frontdesk-labs/frontdesk/libs/config"
	"github.com/frontdesk-labs/frontdesk/libs/db"
	"github.com/frontdesk-labs/frontdesk/libs/httpx"
	"github.com/frontdesk-labs/frontdesk/libs/kafkax"
	otelx "github.com/frontdesk-labs/frontdesk/libs/otel"
	"github.com/frontdesk-labs/frontdesk/libs/runtime"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/booking"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/calendar"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/handlers"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/identity"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/notify"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/outbox"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "reception-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	contactRepo := storage.NewContactRepository(pool, outboxRepo)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	businessRepo := storage.NewBusinessRepository(pool)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// The external calendar feed and the outbound mirrors are optional per
	// deployment; unset URLs disable them.
	var external calendar.IntervalSource
	if feedURL := config.String("CALENDAR_FEED_URL", ""); feedURL != "" {
		external = calendar.NewFeedClient(feedURL, config.String("CALENDAR_FEED_TOKEN", ""))
	}
	snapshots := calendar.NewProvider(apptRepo, external)

	var notifier booking.Notifier = notify.NoopNotifier{}
	if webhookURL := config.String("NOTIFIER_WEBHOOK_URL", ""); webhookURL != "" {
		notifier = notify.NewWebhookNotifier(webhookURL, config.String("NOTIFIER_WEBHOOK_TOKEN", ""))
	}

	resolver := identity.NewResolver(contactRepo, logger)
	coordinator := booking.NewCoordinator(snapshots, apptRepo, notifier, logger)
	receptionHandler := handlers.NewReceptionHandler(
		resolver, coordinator, snapshots, businessRepo, contactRepo, apptRepo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	var publicLimit httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 60), time.Minute, service)
		publicLimit = limiter.Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 60), time.Minute)
		publicLimit = limiter.Middleware()
		logger.Info("using in-process rate limiter (REDIS_URL not set)")
	}

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	requireAuth := auth.Require(jwtSecret)

	mux := runtime.NewBaseMux(readyChecks...)
	mux.Handle("/api/v1/public/slots", publicLimit(http.HandlerFunc(receptionHandler.Slots)))
	mux.Handle("/api/v1/public/book", publicLimit(http.HandlerFunc(receptionHandler.Book)))
	mux.Handle("/api/v1/inbound/resolve", publicLimit(http.HandlerFunc(receptionHandler.Resolve)))
	mux.Handle("/api/v1/appointments", requireAuth(http.HandlerFunc(receptionHandler.ListAppointments)))
	mux.Handle("/api/v1/appointments/status", requireAuth(http.HandlerFunc(receptionHandler.UpdateStatus)))
	mux.Handle("/api/v1/appointments/cancel", requireAuth(http.HandlerFunc(receptionHandler.Cancel)))
	mux.Handle("/api/v1/contacts", requireAuth(http.HandlerFunc(receptionHandler.ListContacts)))
	mux.Handle("/api/v1/settings", requireAuth(http.HandlerFunc(receptionHandler.Settings)))

	corsOrigins := strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ",")
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(corsOrigins),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 30))*time.Second),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "reception")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
