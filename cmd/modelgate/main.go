// Command modelgate runs the asynchronous inference gateway: an HTTP
// surface over a Redis-backed task queue and an Aliyun-OSS-compatible
// object store. Bootstrap builds every collaborator up front, fails
// fast on misconfiguration, then serves until SIGINT/SIGTERM drive a
// graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodeforge/modelgate/internal/config"
	"github.com/nodeforge/modelgate/internal/executor"
	"github.com/nodeforge/modelgate/internal/httpapi"
	"github.com/nodeforge/modelgate/internal/logger"
	"github.com/nodeforge/modelgate/internal/oss"
	"github.com/nodeforge/modelgate/internal/taskstore"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	store, err := taskstore.New(cfg.RedisURL, cfg.RedisNamespace, cfg.Executor.Expiration, log)
	if err != nil {
		log.Error("taskstore init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	registry, err := executor.NewModelRegistryFromConfig(cfg.Models, log)
	if err != nil {
		log.Error("model registry init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	exec := executor.New(store, registry, cfg.Executor, log)

	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" {
		ossClient, err = oss.New(cfg.OSS, log)
		if err != nil {
			log.Error("oss client init failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	} else {
		log.Warn("oss endpoint not configured, /file/* routes will fail on use", nil)
	}

	server := httpapi.New(exec, registry, ossClient, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received", nil)
		cancel()
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	log.Info("modelgate starting", map[string]interface{}{"port": cfg.Port})
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
