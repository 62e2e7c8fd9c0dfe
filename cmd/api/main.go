package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"uyim.org/internal/config"
	"uyim.org/internal/httpapi"
	"uyim.org/internal/notify"
	"uyim.org/internal/obs"
	"uyim.org/internal/occupancy"
	"uyim.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Хранилище: Postgres при заданном DSN, иначе in-memory для разработки
	var (
		store occupancy.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("UYIM_PG_DSN is empty, using in-memory store")
		store = occupancy.NewInMemory()
	}

	// Уведомления: SSE-хаб всегда, RabbitMQ при заданном URL
	hub := notify.NewHub()
	var queue *notify.QueuePublisher
	if cfg.AMQPURL != "" {
		queue = notify.NewQueuePublisher(cfg.AMQPURL, cfg.AMQPQueue)
	}

	engine := occupancy.NewEngine(store, notify.NewDispatcher(hub, queue))
	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(engine, store, hub, probe, version, cfg.TokenTTL)

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.RateLimit(
						httpapi.MaxBodyBytes(api.Handler(), 1<<20),
						cfg.RateBurst, cfg.RatePerSecond)))))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC health endpoint (опционально)
	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcSrv)
		go func() {
			log.Printf("gRPC health on %s", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				log.Printf("grpc serve: %v", err)
			}
		}()
	}

	log.Printf("Starting uyim-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if queue != nil {
		queue.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
