package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/olexisomar/ai-visibility/internal/api"
	"github.com/olexisomar/ai-visibility/internal/automation"
	"github.com/olexisomar/ai-visibility/internal/collector"
	"github.com/olexisomar/ai-visibility/internal/db"
	"github.com/olexisomar/ai-visibility/internal/loops"
	"github.com/olexisomar/ai-visibility/internal/notifications"
	"github.com/olexisomar/ai-visibility/internal/observability"
)

// Config holds application configuration loaded from the environment
type Config struct {
	Port                 string
	Env                  string
	SentryDSN            string
	LogLevel             string
	ObservabilityEnabled bool
	MetricsAddr          string
	OTLPEndpoint         string
	OTLPHeaders          string
	OTLPInsecure         bool
}

func main() {
	// Load .env files in development; ignore errors as env vars may be set directly
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}

	setupLogging(config)

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			// Ensure Sentry flushes before application exits
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var (
		obsProviders *observability.Providers
		metricsSrv   *http.Server
		err          error
	)

	if config.ObservabilityEnabled {
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:        true,
			ServiceName:    "ai-visibility",
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv = &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()

				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	// Connect to PostgreSQL, retrying while the database comes up
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	pgDB, err := db.InitFromEnvWithRetry(connectCtx)
	connectCancel()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	// Create database queue for run claiming
	dbQueue := db.NewDbQueue(pgDB)

	// Register collector providers based on available credentials
	var providers []collector.Provider
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		providers = append(providers, collector.NewGPTClient(apiKey))
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, GPT collection disabled")
	}
	providers = append(providers, collector.NewGoogleAIOClient())

	// Scale worker count with environment to prevent resource exhaustion
	var collectorWorkers int
	switch config.Env {
	case "production":
		collectorWorkers = 10
	case "staging":
		collectorWorkers = 4
	default:
		collectorWorkers = 2
	}

	log.Info().
		Int("workers", collectorWorkers).
		Int("providers", len(providers)).
		Str("environment", config.Env).
		Msg("Configuring collector pool")

	pool := collector.NewPool(pgDB, dbQueue, providers, collectorWorkers)

	// Notification service with whichever channels are configured
	notifier := notifications.NewService(pgDB)
	if slackChannel, err := notifications.NewSlackChannel(); err != nil {
		log.Warn().Err(err).Msg("Slack notifications disabled")
	} else {
		notifier.AddChannel(slackChannel)
	}
	if loopsKey := os.Getenv("LOOPS_API_KEY"); loopsKey != "" {
		emailChannel := notifications.NewEmailChannel(
			loops.New(loopsKey),
			pgDB,
			getEnvWithDefault("LOOPS_RUN_TRANSACTIONAL_ID", "visibility-run"),
		)
		notifier.AddChannel(emailChannel)
	} else {
		log.Warn().Msg("LOOPS_API_KEY not set, email notifications disabled")
	}
	pool.SetNotifier(notifier)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	pool.Start(appCtx)
	defer pool.Stop()

	notifier.StartProcessor(appCtx, time.Minute)

	// Automation manager evaluates schedules and dispatches runs
	dispatcher := automation.NewPgDispatcher(pgDB)
	manager := automation.NewManager(pgDB, dispatcher)
	reaper := automation.NewReaper(pgDB, getEnvDuration("STUCK_RUN_TIMEOUT", automation.DefaultStuckRunTimeout))

	// Cron drives the per-minute evaluator and the periodic sweeps.
	// SkipIfStillRunning stops a slow pass stacking on top of itself.
	cronLogger := cron.VerbosePrintfLogger(&cronLogAdapter{})
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	if _, err := scheduler.AddFunc("* * * * *", func() {
		manager.EvaluateSchedules(appCtx, time.Now().UTC())
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule evaluator")
	}

	if _, err := scheduler.AddFunc("*/15 * * * *", func() {
		if _, err := reaper.Sweep(appCtx, time.Now().UTC()); err != nil {
			log.Error().Err(err).Msg("Stuck-run sweep failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reaper")
	}

	if _, err := scheduler.AddFunc("0 3 * * *", func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -90)
		deleted, err := pgDB.DeleteNotificationsOlderThan(appCtx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("Notification cleanup failed")
			return
		}
		if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Cleaned up old notifications")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule notification cleanup")
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Create a rate limiter
	limiter := newRateLimiter()

	// Create API handler with dependencies
	apiHandler := api.NewHandler(pgDB, manager, pgDB)

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	// Create middleware stack with rate limiting
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !limiter.getLimiter(ip).Allow() {
			api.WriteErrorMessage(w, r, "Too many requests", http.StatusTooManyRequests, api.ErrCodeRateLimit)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Add middleware in reverse order (outermost first)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: handler,
	}

	// Channel to listen for termination signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal when the server has shut down
	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Stop accepting new requests
		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		appCancel()
		close(done)
	}()

	log.Info().Str("port", config.Port).Msg("Starting server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done // Wait for the shutdown process to complete
	log.Info().Msg("Server stopped")
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvDuration reads a duration in seconds from the environment
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err != nil || seconds <= 0 {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		// In production, use JSON format that works well with Fly.io logs
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "ai-visibility").
			Logger()
	}
}

// cronLogAdapter routes cron's internal logging through zerolog
type cronLogAdapter struct{}

func (c *cronLogAdapter) Printf(format string, args ...interface{}) {
	log.Debug().Msgf(format, args...)
}

// RateLimiter represents a rate limiting system based on client IP addresses
type RateLimiter struct {
	limits   map[string]*IPRateLimiter
	mu       sync.Mutex
	rate     rate.Limit
	capacity int
}

// IPRateLimiter wraps a token bucket rate limiter specific to an IP address
type IPRateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter creates a new rate limiter with default settings
func newRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:   make(map[string]*IPRateLimiter),
		rate:     rate.Limit(20), // 20 requests per second
		capacity: 10,             // 10 burst capacity
	}
}

// getLimiter returns the rate limiter for a specific IP address
func (rl *RateLimiter) getLimiter(ip string) *IPRateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limits[ip]
	if !exists {
		limiter = &IPRateLimiter{
			limiter: rate.NewLimiter(rl.rate, rl.capacity),
		}
		rl.limits[ip] = limiter
	}

	return limiter
}

// Allow checks if a request from this IP should be allowed
func (ipl *IPRateLimiter) Allow() bool {
	return ipl.limiter.Allow()
}

// getClientIP extracts the client's IP address from a request
func getClientIP(r *http.Request) string {
	// Check for X-Forwarded-For header first (for clients behind proxies)
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// X-Forwarded-For might contain multiple IPs, take the first one
		ips := strings.Split(ip, ",")
		ip = strings.TrimSpace(ips[0])
		return ip
	}

	// If no X-Forwarded-For, use RemoteAddr
	ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	return ip
}
