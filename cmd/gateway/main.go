// Package main is the entry point for the chaos gateway.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "chaos-gateway"
	"chaos-gateway/config"
	"chaos-gateway/logger"
	"chaos-gateway/metrics"
)

func main() {
	var (
		addr       = flag.String("addr", envOr("GATEWAY_ADDR", ":8080"), "listen address")
		configFile = flag.String("config", "", "config file path (YAML/JSON)")
		target     = flag.String("target", "", "upstream origin (overrides config file)")
		timeoutMs  = flag.Int("timeout-ms", 0, "upstream timeout in milliseconds (overrides config file)")
	)
	flag.Parse()

	log := logger.NewLogger("main")

	proxyCfg := config.CreateProxy()
	if *configFile != "" {
		file, err := config.LoadFile(*configFile)
		if err != nil {
			log.Errorf("config error: %v", err)
			os.Exit(1)
		}
		proxyCfg = &file.Proxy
	}
	if envTarget := os.Getenv("GATEWAY_TARGET"); envTarget != "" && *target == "" {
		*target = envTarget
	}
	if *target != "" {
		proxyCfg.Target = *target
	}
	if *timeoutMs > 0 {
		proxyCfg.TimeoutMs = *timeoutMs
	}

	gw, err := gateway.New(proxyCfg, metrics.NewGateway(nil))
	if err != nil {
		log.Errorf("failed to create gateway: %v", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gw)

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
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

	log.Infof("gateway listening on %s, forwarding to %s", *addr, proxyCfg.Target)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("server error: %v", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
