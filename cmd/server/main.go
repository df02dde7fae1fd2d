package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vkudelin/agent-registry/internal/api"
	"github.com/vkudelin/agent-registry/internal/config"
	"github.com/vkudelin/agent-registry/internal/infrastructure/auth"
	"github.com/vkudelin/agent-registry/internal/infrastructure/kafka"
	"github.com/vkudelin/agent-registry/internal/infrastructure/redis"
	"github.com/vkudelin/agent-registry/internal/observability"
	core "github.com/vkudelin/agent-registry/internal/repository/postgres"
	"github.com/vkudelin/agent-registry/internal/scheduler"
	service "github.com/vkudelin/agent-registry/internal/services"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown := observability.Setup("agent-registry")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := core.NewPostgresUserRepository(db)
	tokenRepo := core.NewPostgresTokenRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	revocations := redis.NewRevocationRegistry(redisClient)
	producer := kafka.NewProducer(cfg.KafkaBrokers, "auth-events")
	defer producer.Close()

	signer := auth.NewTokenSigner(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	svc := service.NewAuthService(userRepo, tokenRepo, revocations, signer, producer, cfg.RefreshKeepCount)

	sched := scheduler.New(tokenRepo, cfg.SweepInterval, cfg.StatsInterval)
	sched.Start(context.Background())
	defer sched.Stop()

	// Drop whatever expired while the service was down.
	sched.RunSweep(context.Background())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.SetupRouter(svc),
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
