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

	"github.com/driftpair/chat-server/internal/events"
	"github.com/driftpair/chat-server/internal/metrics"
	"github.com/driftpair/chat-server/internal/pairing"
	"github.com/driftpair/chat-server/internal/profile"
	"github.com/driftpair/chat-server/internal/protocol"
	"github.com/driftpair/chat-server/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, origin)
			}
		}
	}

	pairingConfig := pairing.DefaultConfig()
	if v := os.Getenv("MATCH_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			pairingConfig.Cooldown = d
		}
	}
	if v := os.Getenv("ENRICH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			pairingConfig.EnrichTimeout = d
		}
	}

	// --- Profile store (optional): no DSN means anonymous-only service. ---
	var enricher profile.Enricher
	if dsn := os.Getenv("PROFILE_DB_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open profile database: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to reach profile database: %v", err)
		}
		if err := profile.Migrate(db); err != nil {
			log.Fatalf("failed to migrate profile database: %v", err)
		}
		enricher = profile.NewPGStore(db)
		defer db.Close()

		// Optional Redis read-through cache in front of Postgres.
		if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rdb.Ping(ctx).Err(); err != nil {
				cancel()
				log.Fatalf("failed to connect to Redis: %v", err)
			}
			cancel()
			enricher = profile.NewRedisCache(rdb, enricher)
			defer rdb.Close()
		}
	}

	// --- Lifecycle event publisher (optional). ---
	var publisher *events.Publisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = natsURL
		p, err := events.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		publisher = p
		defer publisher.Close()
	}

	log.Printf("Driftpair server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  match_cooldown:  %s", pairingConfig.Cooldown)
	log.Printf("  profile_store:   %v", enricher != nil)
	log.Printf("  event_publisher: %v", publisher != nil)

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	handler := pairing.New(server, enricher, publisher, pairingConfig)

	server.SetOnConnect(handler.HandleConnect)
	server.SetOnDisconnect(handler.HandleDisconnect)
	server.SetStatusFunc(func() ws.Status {
		return ws.Status{
			Online:  handler.OnlineCount(),
			Waiting: handler.QueueSizes(),
			Rooms:   handler.RoomCount(),
		}
	})
	server.SetMetricsHandler(metrics.Handler())

	dispatcher.Register(protocol.TypeFindPartner, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.FindPartnerMsg); ok {
			handler.HandleFindPartner(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendMessageMsg); ok {
			handler.HandleSendMessage(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeWebRTCSignal, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.WebRTCSignalMsg); ok {
			handler.HandleWebRTCSignal(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeTypingStart, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			handler.HandleTyping(conn.ID, m.RoomID, true)
		}
	})
	dispatcher.Register(protocol.TypeTypingStop, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingMsg); ok {
			handler.HandleTyping(conn.ID, m.RoomID, false)
		}
	})
	dispatcher.Register(protocol.TypeLeaveChat, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.LeaveChatMsg); ok {
			handler.HandleLeaveChat(conn.ID, m.RoomID)
		}
	})
	dispatcher.Register(protocol.TypeGetOnlineUserCount, func(conn *ws.Connection, msg interface{}) {
		handler.HandleGetOnlineUserCount(conn.ID)
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
