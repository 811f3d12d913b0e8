// Command server assembles the RAG core engine's ten components into a
// running Core and keeps it alive until interrupted. It exposes no
// transport of its own (no HTTP/WebSocket/MCP handlers) — a transport
// layer is a separate concern a caller wires on top of internal/core.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"ragcore/internal/config"
	"ragcore/internal/di"
)

func main() {
	thresholdFile := flag.String("threshold-file", "", "path to a YAML file overriding C2's per-provider threshold seeds")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "grace period for in-flight reprocessing operations during shutdown")
	flag.Parse()

	cfg, err := config.LoadConfig(*thresholdFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	container, err := di.New(cfg)
	if err != nil {
		log.Fatalf("failed to assemble core: %v", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Printf("error closing container resources: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container.Core.StartQueue(ctx)
	log.Printf("ragcore running (max_concurrent_operations=%d, max_queue_size=%d)",
		cfg.Reprocessing.MaxConcurrentOperations, cfg.Reprocessing.MaxQueueSize)

	<-ctx.Done()
	log.Printf("shutdown signal received, draining reprocessing queue")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()
	if err := container.Core.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during queue shutdown: %v", err)
	}
}
