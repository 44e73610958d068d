// ffedit/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ffedit/api"
	"ffedit/bridge"
	"ffedit/config"
	"ffedit/ffmpeg"
	"ffedit/media"
	"ffedit/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the encoder and the task manager that admits work to it
	runner := ffmpeg.NewRunner(cfg)
	taskManager, err := task.NewManager(cfg, runner)
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}

	// 3. UI surfaces connect over SSE; the bridge correlates their replies
	hub := api.NewSurfaceHub()
	b := bridge.New(hub)
	prober := media.NewProber(cfg.FFProbeBin, cfg.ProbeCacheSize)

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, b, hub, prober, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	// Open SSE streams end with the request contexts; give the rest 5 seconds.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
