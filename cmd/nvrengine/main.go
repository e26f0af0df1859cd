// Command nvrengine is the recorder engine's process entrypoint: it
// loads configuration, wires the engine, serves the control surface,
// and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lightnvr/engine/internal/config"
	"github.com/lightnvr/engine/internal/controlapi"
	"github.com/lightnvr/engine/internal/engine"
	"github.com/lightnvr/engine/internal/obslog"
)

const defaultDataPath = "/data"

func main() {
	logLevel := obslog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	obslog.Init(os.Stdout, logLevel)

	dataPath := getEnv("DATA_PATH", defaultDataPath)
	configPath := findConfigFile(dataPath)

	slog.Info("starting nvrengine", "config_path", configPath, "data_path", dataPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Watch(); err != nil {
		slog.Warn("failed to watch configuration file", "error", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		slog.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	server := controlapi.New(eng.Store(), eng.Timeline(), eng, cfg.System.ManifestPath)
	httpServer := &http.Server{
		Addr:    getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		Handler: server.Routes(),
	}

	go func() {
		slog.Info("control surface listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control surface error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("control surface shutdown error", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine shutdown error", "error", err)
	}

	slog.Info("nvrengine stopped")
}

// findConfigFile checks the common locations a deployment might place
// the YAML config, falling back to a default path under dataPath.
func findConfigFile(dataPath string) string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		dir := filepath.Dir(configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Warn("failed to create config directory", "dir", dir, "error", err)
		}
		return configPath
	}

	locations := []string{
		"/config/config.yaml",
		filepath.Join(dataPath, "config.yaml"),
		"./config/config.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	if _, err := os.Stat("/config"); err == nil {
		return "/config/config.yaml"
	}
	return filepath.Join(dataPath, "config.yaml")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
