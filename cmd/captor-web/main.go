package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhart/captor"
	"github.com/jordanhart/captor/internal/storage"
	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path")
	addr := flag.String("addr", "", "listen address (overrides config)")
	noScheduler := flag.Bool("no-scheduler", false, "serve the API without the auto-sync scheduler")
	flag.Parse()

	cfg := storage.DefaultConfig()
	if data, err := os.ReadFile(*configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "captor-web: parse config: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	engine, err := captor.NewEngine(captor.EngineConfigFrom(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "captor-web: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if !*noScheduler {
		engine.StartScheduler()
	}

	mux := newRouter(engine)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      logging(recovery(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("captor-web: listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("captor-web: %v", err)
		}
	}()

	<-done
	log.Println("captor-web: shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("captor-web: shutdown error: %v", err)
	}
	engine.Wait()
	log.Println("captor-web: stopped")
}
