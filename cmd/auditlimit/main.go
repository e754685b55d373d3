package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkedlist771/claude-auditlimit-go/admission"
	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/linkedlist771/claude-auditlimit-go/deviceregistry"
	"github.com/linkedlist771/claude-auditlimit-go/handler"
	"github.com/linkedlist771/claude-auditlimit-go/logger"
	"github.com/linkedlist771/claude-auditlimit-go/observability"
	"github.com/linkedlist771/claude-auditlimit-go/redisclient"
	"github.com/linkedlist771/claude-auditlimit-go/router"
	"github.com/linkedlist771/claude-auditlimit-go/scheduler"
	"github.com/linkedlist771/claude-auditlimit-go/tokenizer"
	"github.com/linkedlist771/claude-auditlimit-go/tokenusage"
	"github.com/linkedlist771/claude-auditlimit-go/windowcounter"
)

func main() {
	host := flag.String("host", "", "override the listen host (defaults to config)")
	port := flag.String("port", "", "override the listen port (defaults to config)")
	workers := flag.Int("workers", 0, "override worker count (defaults to config, informational)")
	flag.Parse()

	cfg := config.Load()
	if *host != "" || *port != "" {
		h, p := splitAddr(cfg.Addr)
		if *host != "" {
			h = *host
		}
		if *port != "" {
			p = *port
		}
		cfg.Addr = h + ":" + p
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("claude-auditlimit starting")

	store := redisclient.New(cfg)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing, admission calls will 500 until it recovers")
	} else {
		log.Info().Msg("redis connected")
	}
	cancel()

	tok := tokenizer.New(cfg.DefaultTokenizer)
	engine := admission.New(store, cfg, tok)
	metrics := observability.NewMetrics(log)

	deps := router.Deps{
		Audit:     handler.NewAudit(engine, log, metrics),
		Notify:    handler.NewNotify(engine, log, metrics),
		Aggregate: handler.NewAggregate(windowcounter.New(store, "token"), deviceregistry.New(store, cfg), tokenusage.New(store), log),
		Metrics:   metrics,
	}
	r := router.NewRouter(cfg, log, deps)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	limitScheduler := scheduler.New(log, 60*time.Minute)
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	limitScheduler.Start(schedulerCtx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	limitScheduler.Stop()
	schedulerCancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("stopped gracefully")
	}
	_ = store.Close()
}

func splitAddr(addr string) (host, port string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return addr, ""
}
