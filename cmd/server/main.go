/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the aid disbursement and liquidation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire the domain service (allowance provider, notifier, audit log)
  4. Configure HTTP router and recalculation scheduler
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment variables; environment comes from the
  process or a local .env file.

  PORT / -port                  HTTP server port (default: 8080)
  DB_PATH / -db                 SQLite database path (default: aidpoint.db)
                                Use ":memory:" for in-memory database
  ALLOWANCE_DAILY_RATE / -rate  Daily allowance rate for the static
                                attendance provider (default: 150)
  ALLOWANCE_DAYS / -days        Attended days served by the static
                                provider (default: 22)
  RECALC_INTERVAL / -recalc     Recalculation interval (default: 1h,
                                "0" disables the scheduler)
  LOG_LEVEL                     logrus level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/aidpoint.db"

  # Run with in-memory database and no scheduler
  ./server -db=":memory:" -recalc=0

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Periodic recalculation
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
	"github.com/IvanBritz/aidpoint-backend-sub001/api"
	"github.com/IvanBritz/aidpoint-backend-sub001/money"
	"github.com/IvanBritz/aidpoint-backend-sub001/store/sqlite"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "aidpoint.db"), "SQLite database path")
	rate := flag.String("rate", envStr("ALLOWANCE_DAILY_RATE", "150"), "daily allowance rate")
	days := flag.Int("days", envInt("ALLOWANCE_DAYS", 22), "attended days for the static provider")
	recalcEvery := flag.Duration("recalc", envDuration("RECALC_INTERVAL", time.Hour), "recalculation interval (0 disables)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(envStr("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	dailyRate, err := money.Parse(*rate)
	if err != nil {
		log.WithError(err).Fatal("invalid allowance daily rate")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Wire the domain service
	svc := aid.NewService(store, aid.Config{
		Allowance: aid.StaticAllowance{DaysAttended: *days, DailyRate: dailyRate},
		Notifier:  &aid.LogNotifier{Log: log},
		Audit:     &aid.LogAuditLog{Log: log},
		Log:       log,
	})

	handler := api.NewHandler(svc, log)
	router := api.NewRouter(handler)

	// Periodic allowance recalculation
	var sched *api.RecalcScheduler
	if *recalcEvery > 0 {
		sched = api.NewRecalcScheduler(svc, log)
		sched.CheckInterval = *recalcEvery
		sched.Start()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	if sched != nil {
		sched.Stop()
	}

	log.Info("server stopped")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
