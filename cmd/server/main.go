package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"aims-coach/internal/core"
	"aims-coach/internal/httpserver"
	"aims-coach/internal/llm"
	"aims-coach/internal/logging"
	"aims-coach/internal/rubric"
	"aims-coach/internal/store"

	_ "github.com/lib/pq"
)

func main() {
	// Load .env if present; real environment variables win.
	_ = godotenv.Load()

	logging.Init(logging.ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FORMAT"))
	log := logging.New("server")

	sessionTTL := envDuration("SESSION_TTL_SECONDS", 30*time.Minute)
	maxTurns := envInt("SESSION_MAX_TURNS", 50)
	genTimeout := envDuration("GENERATION_TIMEOUT_SECONDS", 20*time.Second)

	r, err := rubric.Load()
	if err != nil {
		log.Error("rubric load failed", "error", err.Error())
		os.Exit(1)
	}

	sessions := newSessionStore(os.Getenv("DATABASE_URL"), sessionTTL, log)

	client := llm.NewOpenAIClient()
	safety, err := core.NewSafetyGate(logging.New("safety"))
	if err != nil {
		log.Error("safety gate init failed", "error", err.Error())
		os.Exit(1)
	}
	gateway := core.NewGateway(client, r, genTimeout, logging.New("gateway"))
	orchestrator := core.NewOrchestrator(sessions, gateway, safety, r, maxTurns, logging.New("orchestrator"))
	aggregator := core.NewAggregator(sessions, r)

	srv := httpserver.NewServer(orchestrator, aggregator, sessions, sessionTTL, logging.New("http"))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	log.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, srv); err != nil {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
}

// newSessionStore selects the session backend. A missing or unreachable
// DATABASE_URL degrades to the in-process store with a single warning;
// sessions are then lost on restart but the engine keeps serving.
func newSessionStore(dbURL string, ttl time.Duration, log *slog.Logger) store.Store {
	if dbURL == "" {
		log.Warn("DATABASE_URL not set, sessions are process-local and lost on restart")
		return store.NewMemory(ttl)
	}
	pg, err := openPostgres(dbURL, ttl)
	if err != nil {
		log.Warn("postgres unavailable, sessions are process-local and lost on restart", "error", err.Error())
		return store.NewMemory(ttl)
	}
	go pruneLoop(pg, log)
	log.Info("session store ready", "backend", "postgres")
	return pg
}

func openPostgres(dbURL string, ttl time.Duration) (*store.Postgres, error) {
	dbConn, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		dbConn.Close()
		return nil, err
	}
	if err := store.Migrate(ctx, dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	return store.NewPostgres(dbConn, ttl), nil
}

// pruneLoop periodically sweeps expired session rows.
func pruneLoop(pg *store.Postgres, log *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		n, err := pg.PruneExpired(context.Background())
		if err != nil {
			log.Warn("session prune failed", "error", err.Error())
			continue
		}
		if n > 0 {
			log.Info("expired sessions pruned", "count", n)
		}
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
