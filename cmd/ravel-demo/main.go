package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ravelnet/ravel/pkg/logger"
	"github.com/ravelnet/ravel/source/peer"
	"github.com/ravelnet/ravel/source/protocol"
)

const version = "1.0.0"

func main() {
	logger.Info("ravel demo peer %s starting", version)

	cfg, err := protocol.LoadConfig(loadOptions())
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}

	p := peer.New(cfg, uint64(time.Now().UnixNano()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(p.Metrics())
	go serveMetrics(registry, ":9090")

	go dispatchLoop(p)

	errCh := make(chan error, 1)
	go func() {
		if err := p.Listen(":14207"); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("peer error: %v", err)
	case sig := <-sigCh:
		logger.Warn("received signal: %v", sig)
		p.Shutdown()
		time.Sleep(200 * time.Millisecond)
		logger.Info("shut down cleanly")
	}
}

func dispatchLoop(p *peer.Peer) {
	p.Inbound().On(peer.EventStatusChange, func(ev peer.InboundEvent) {
		logger.With(logger.Fields{
			"remote": ev.Conn.RemoteAddr.String(),
			"status": ev.Status.String(),
		}).Info("status change")
	})
	p.Inbound().On(peer.EventMessage, func(ev peer.InboundEvent) {
		logger.Debug("message from %s: %d bytes", ev.Conn.RemoteAddr, len(ev.Msg.Payload))
	})
	for p.Inbound().Dispatch() {
	}
}

func serveMetrics(registry *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped: %v", err)
	}
}

func loadOptions() map[string]interface{} {
	return map[string]interface{}{}
}
