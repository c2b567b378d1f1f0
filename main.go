package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"termproxy/internal/admin"
	"termproxy/internal/config"
	"termproxy/internal/httpapi"
	"termproxy/internal/session"
	"termproxy/internal/sweeper"
)

func main() {
	config.Load()
	cfg := config.Cfg

	engine := session.NewEngine(cfg.MaxConnections, time.Duration(cfg.SSEHeartbeatMs)*time.Millisecond)

	facade := &admin.Facade{
		Engine:               engine,
		DefaultCols:          120,
		DefaultRows:          30,
		DefaultTerm:          "xterm-256color",
		DefaultIdleTimeoutMs: cfg.IdleTimeoutMs,
		ConnectTimeout:       time.Duration(cfg.SSHConnectTimeoutMs) * time.Millisecond,
		KeepaliveInterval:    time.Duration(cfg.SSHKeepaliveIntervalMs) * time.Millisecond,
		KeepaliveMisses:      cfg.SSHKeepaliveMaxMisses,
	}

	server := &httpapi.Server{
		Facade:         facade,
		AllowedOrigins: cfg.AllowedOrigins,
		StartedAt:      time.Now(),
		BasePath:       cfg.BasePath,
	}
	router := httpapi.NewRouter(server, cfg.BasePath)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepInterval := time.Duration(cfg.SweepIntervalMs) * time.Millisecond
	sw := sweeper.New(engine, sweepInterval)
	go sw.Run(sigCtx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Printf("termproxy listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
	log.Println("server stopped")
}
