package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tillpoint/backend/internal/catalog"
	"tillpoint/backend/internal/config"
	"tillpoint/backend/internal/directory"
	"tillpoint/backend/internal/httpapi"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/stock"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
	pgstore "tillpoint/backend/internal/store/postgres"
	"tillpoint/backend/internal/unlock"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.BranchID)
		log.Println("repository: in-memory")
	}

	registry := unlock.Registry(unlock.NewMemory())
	if cfg.RedisAddr != "" {
		redisRegistry := unlock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisRegistry.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-memory unlock registry", err)
		} else {
			registry = redisRegistry
			closers = append(closers, redisRegistry.Close)
			log.Println("unlock registry: redis")
		}
	} else {
		log.Println("unlock registry: in-memory")
	}

	resolver := catalog.NewResolver(catalog.NewSeededProvider())
	gate := stock.NewGate(stock.NewSeededProvider(cfg.BranchID), time.Duration(cfg.UpstreamTimeoutMS)*time.Millisecond, cfg.StockFailClosed)
	staff := directory.NewSeeded(cfg.BranchID)

	svc := service.New(repo, resolver, gate, cfg.BranchID, time.Duration(cfg.PendingEditTTLMinutes)*time.Minute)
	guard := httpapi.NewGuard(
		cfg.AuthSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.IdleTimeoutSeconds)*time.Second,
		staff,
		registry,
	)
	api := httpapi.New(svc, guard, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("order engine listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
