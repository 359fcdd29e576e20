package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"sqlpilot/agent"
	"sqlpilot/config"
	"sqlpilot/db"
	"sqlpilot/platform/shutdown"
	"sqlpilot/providers"
	"sqlpilot/web"
)

func main() {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()
	config.Initialize()
	cfg := config.Get()

	database, err := db.GetDB()
	if err != nil {
		log.Fatal(err)
	}

	registry := agent.NewRegistry()
	orchestrator := agent.NewOrchestrator(
		registry,
		providers.NewAnthropicClient(),
		database,
		database,
		agent.DefaultOptions(),
	)

	stopReaper := registry.StartReaper(cfg.ReapInterval, cfg.IdleTimeout, orchestrator.Stop)

	shutdown.RegisterHook(func(duration time.Duration) error {
		stopReaper()
		for _, s := range registry.List() {
			orchestrator.Stop(s.ID)
		}
		return database.Close()
	})

	done := make(chan struct{})
	shutdown.InitShutdownService(done)

	s := rweb.NewServer(rweb.ServerOptions{
		Address: cfg.Address,
		Verbose: true,
	})

	// Add middleware for request logging
	s.Use(rweb.RequestInfo)

	web.SetupRoutes(s, orchestrator, database)

	go func() {
		logger.Info("Starting SQLPilot server", "address", cfg.Address)
		log.Fatal(s.Run())
	}()

	<-done
	logger.Info("SQLPilot shut down")
}
