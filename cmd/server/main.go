package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/exsim/exchange/internal/api"
	"github.com/exsim/exchange/internal/config"
	"github.com/exsim/exchange/internal/db"
	"github.com/exsim/exchange/internal/events"
	"github.com/exsim/exchange/internal/exchange"
	"github.com/exsim/exchange/internal/logger"
	"github.com/exsim/exchange/internal/metrics"
	"github.com/exsim/exchange/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	// Durable store if a database is configured, in-memory otherwise. The
	// core logic is identical either way.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("database connection failed", zap.Error(err))
		}
		st = store.NewPostgres(pool, zlog)
		zlog.Info("using postgres store")
	} else {
		st = store.NewMemory()
		zlog.Info("using in-memory store")
	}
	defer st.Close()

	hub := events.NewHub(zlog)
	go hub.Run()

	publishers := events.Multi{hub}
	var kafkaPub *events.Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub = events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
		publishers = append(publishers, kafkaPub)
		zlog.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	met := metrics.New()
	met.Serve(cfg.Metrics.Addr)

	ex := exchange.New(zlog, st, publishers, met, cfg.Engine, cfg.Markets)
	if err := ex.Restore(ctx); err != nil {
		zlog.Fatal("restore books", zap.Error(err))
	}

	app := fiber.New()
	api.InitializeRoutes(app, ex)

	// Websocket fan-out on its own listener.
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", hub.ServeWS)
	go func() {
		if err := http.ListenAndServe(cfg.WS.Addr, wsMux); err != nil {
			zlog.Error("ws listener stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(cfg.Server.Addr); err != nil {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()
	zlog.Info("server started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("ws", cfg.WS.Addr),
		zap.String("metrics", cfg.Metrics.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		zlog.Error("server shutdown", zap.Error(err))
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			zlog.Error("kafka close", zap.Error(err))
		}
	}
}
