package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"topod/internal/config"
	"topod/internal/crawler"
	"topod/internal/events"
	"topod/internal/log"
	"topod/internal/mcp"
	"topod/internal/storage"
	"topod/internal/worker"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the topod server",
		Description: "Start the discovery daemon with the MCP endpoint and scheduled rescans",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			log.Info("Configuration loaded", "source", cfg.String(), "data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				log.Error("Failed to initialize storage", "error", err)
				return err
			}
			defer store.Close()
			log.Info("Storage initialized", "backend", "SQLite", "path", cfg.DataDir)

			hub := events.NewHub()
			orchestrator := crawler.New(store, hub, crawler.Options{
				Workers:        cfg.Workers,
				ConnectTimeout: cfg.ConnectTimeout,
				CommandTimeout: cfg.CommandTimeout,
				SNMPCommunity:  cfg.SNMPCommunity,
				MDNSWindow:     cfg.MDNSWindow,
			})

			scheduler := worker.NewScheduler(store, orchestrator)
			scheduler.Start()
			defer scheduler.Stop()
			log.Info("Rescan scheduler started", "entries", scheduler.ScheduledCount())

			mcpServer := mcp.NewServer(store, orchestrator, scheduler, cfg.MCPAuthToken)

			mux := http.NewServeMux()
			mux.HandleFunc("/mcp", mcpServer.HandleRequest)

			server := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: mux,
			}

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
				select {
				case <-sigChan:
				case <-ctx.Done():
				}
				log.Info("Shutting down server...")
				server.Close()
			}()

			log.Info("Starting topod server", "addr", cfg.ListenAddr)
			log.Info("MCP available", "url", "http://localhost"+cfg.ListenAddr+"/mcp")
			if cfg.IsMCPAuthEnabled() {
				log.Info("MCP authentication enabled")
			}

			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Server error", "error", err)
				return err
			}

			log.Info("Server stopped")
			return nil
		},
	}
}
