// Command reservecored serves the reservation arbitration API.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reservecore/internal/adapters/decisionlog"
	"reservecore/internal/adapters/reservations"
	"reservecore/internal/blob"
	"reservecore/internal/core"
)

func main() {
	ctx := context.Background()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	blobStore, err := blob.Open(ctx)
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}

	metrics := core.NewPrometheusMetricsRecorder()
	dispatcher := core.NewDispatcher()
	dispatcher.Start()

	service := core.NewService(store,
		core.WithMetricsRecorder(metrics),
		core.WithEventSink(dispatcher),
	)

	exports := decisionlog.NewWorker(service, blobStore, &decisionlog.MemoryAuditLog{})
	exports.Start()

	handler := &reservations.Handler{Service: service, Exports: exports, Metrics: metrics}

	addr := os.Getenv("RESERVECORE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	log.Printf("listening on %s", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("serve: %v", err)
	case <-stop:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = exports.Stop(shutdownCtx)
	_ = dispatcher.Stop(shutdownCtx)
}
