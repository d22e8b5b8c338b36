package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidcrawl/config"
	"vidcrawl/processors"
	"vidcrawl/server"
	"vidcrawl/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.HasValidAPI() {
		log.Printf("Warning: no API key configured; analyzers and answer synthesis run in degraded mode")
	}

	store, vectors := storage.Open(cfg)

	analyzers := []processors.SegmentAnalyzer{
		processors.NewAudioAnalyzer(cfg),
		processors.NewVisualAnalyzer(cfg),
	}
	srv := server.New(cfg, store, vectors, analyzers)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
