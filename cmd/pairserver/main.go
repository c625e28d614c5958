package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/driftchat/pairserver/internal/ban"
	"github.com/driftchat/pairserver/internal/hub"
	"github.com/driftchat/pairserver/internal/messaging"
	"github.com/driftchat/pairserver/internal/metrics"
	"github.com/driftchat/pairserver/internal/protocol"
	"github.com/driftchat/pairserver/internal/ratelimit"
	"github.com/driftchat/pairserver/internal/report"
	"github.com/driftchat/pairserver/internal/ws"
)

func main() {
	serverConfig := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		serverConfig.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			serverConfig.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			serverConfig.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			serverConfig.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			serverConfig.WriteTimeout = d
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		serverConfig.AllowedOrigins = splitList(v)
	}

	hubConfig := hub.DefaultConfig()
	if v := os.Getenv("SEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			hubConfig.SearchTimeout = d
		}
	}
	if v := os.Getenv("REMATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			hubConfig.RematchInterval = d
		}
	}
	if v := os.Getenv("IDLE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			hubConfig.IdleThreshold = d
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			hubConfig.SweepInterval = d
		}
	}
	if v := os.Getenv("STATS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			hubConfig.StatsInterval = d
		}
	}
	if v := os.Getenv("SCORE_THRESHOLD_TEXT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			hubConfig.Scoring.TextThreshold = f
		}
	}
	if v := os.Getenv("SCORE_THRESHOLD_VIDEO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			hubConfig.Scoring.VideoThreshold = f
		}
	}
	hubConfig.ICEServers = iceServersFromEnv(hubConfig.ICEServers)

	// --- Redis (rate limits, fingerprint bans) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	var (
		redisClient *redis.Client
		limiter     *ratelimit.Limiter
		bans        *ban.Store
	)
	{
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			// Rate limiting and bans fail open without Redis.
			log.Printf("redis unavailable at %s: %v (rate limits and bans disabled)", redisAddr, err)
			client.Close()
		} else {
			redisClient = client
			limiter = ratelimit.NewLimiter(client)
			bans = ban.NewStore(client)
		}
	}

	// --- PostgreSQL (abuse reports) ---
	var (
		db      *sql.DB
		reports *report.Store
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		var err error
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("postgres open: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("postgres ping: %v", err)
		}
		if err := report.Migrate(db); err != nil {
			log.Fatalf("postgres migrate: %v", err)
		}
		reports = report.NewStore(db)
	} else {
		log.Printf("DATABASE_URL not set (abuse report persistence disabled)")
	}

	// --- NATS (event firehose) ---
	var events *messaging.Publisher
	if url := os.Getenv("NATS_URL"); url != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = url
		var err error
		events, err = messaging.Connect(natsConfig)
		if err != nil {
			log.Printf("nats unavailable: %v (event stream disabled)", err)
		}
	} else {
		log.Printf("NATS_URL not set (event stream disabled)")
	}

	log.Printf("pairserver starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  search_timeout:  %s", hubConfig.SearchTimeout)
	log.Printf("  rematch_every:   %s", hubConfig.RematchInterval)
	log.Printf("  idle_threshold:  %s", hubConfig.IdleThreshold)
	log.Printf("  redis:           %s (connected=%v)", redisAddr, redisClient != nil)
	log.Printf("  postgres:        %v", db != nil)
	log.Printf("  nats:            %v", events != nil)

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	server.Handle("/metrics", metrics.Handler())

	h := hub.New(hubConfig, hub.Deps{
		Limiter: limiter,
		Bans:    bans,
		Reports: reports,
		Events:  events,
	})
	h.Attach(server, dispatcher)
	h.Run()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		h.Close()
		events.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if db != nil {
			db.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// iceServersFromEnv overrides the default ICE set from STUN_URLS and the
// TURN_* variables. TURN credentials are passed through to clients verbatim.
func iceServersFromEnv(defaults []protocol.ICEServer) []protocol.ICEServer {
	servers := defaults
	if v := os.Getenv("STUN_URLS"); v != "" {
		servers = []protocol.ICEServer{{URLs: splitList(v)}}
	}
	if turn := os.Getenv("TURN_URL"); turn != "" {
		servers = append(servers, protocol.ICEServer{
			URLs:       []string{turn},
			Username:   os.Getenv("TURN_USERNAME"),
			Credential: os.Getenv("TURN_CREDENTIAL"),
		})
	}
	return servers
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
