// Package main is the entry point for the demonstration upstream service.
// Fault injection is configured through the GREMLIN_* environment variables
// and is immutable for the life of the process.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chaos-gateway/config"
	"chaos-gateway/gremlin"
	"chaos-gateway/logger"
	"chaos-gateway/upstream"
)

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	log := logger.NewLogger("main")

	faultCfg, err := config.FaultFromEnv()
	if err != nil {
		log.Errorf("config error: %v", err)
		os.Exit(1)
	}
	engine, err := gremlin.New(faultCfg)
	if err != nil {
		log.Errorf("failed to create fault injection engine: %v", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           upstream.New(engine).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("upstream listening on %s (chaos enabled: %v)", *addr, faultCfg.Enabled)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("server error: %v", err)
		os.Exit(1)
	}
}
