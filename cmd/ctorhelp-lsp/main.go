package main

import (
	"errors"
	"expvar"
	"io"
	stlog "log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	"github.com/shehackedyou/ctorhelp"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

func main() {
	logFile, err := os.OpenFile("ctorhelp-lsp.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logWriter := io.MultiWriter(os.Stderr, logFile)

	// Info until the configured level is known.
	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, cfgErr := ctorhelp.LoadConfig(tempLogger)
	if cfgErr != nil && !errors.Is(cfgErr, ctorhelp.ErrConfig) {
		tempLogger.Error("Failed to load configuration", "error", cfgErr)
		os.Exit(1)
	}

	logLevel, parseLevelErr := ctorhelp.ParseLogLevel(cfg.LogLevel)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level in config, using default 'info'", "config_level", cfg.LogLevel, "error", parseLevelErr)
	}
	handlerOpts := slog.HandlerOptions{Level: logLevel, AddSource: true}
	logger := slog.New(slog.NewTextHandler(logWriter, &handlerOpts))
	slog.SetDefault(logger)

	slog.Info("ctorhelp LSP server starting...", "version", appVersion, "log_level", logLevel.String())
	if cfgErr != nil {
		slog.Warn("Configuration loaded with warnings", "error", cfgErr)
	}

	units := ctorhelp.NewUnitCache(cfg.MemoryCacheTTL, logger)
	defer units.Close()

	var metadata *ctorhelp.MetadataService
	if cfg.DisableDiskCache {
		metadata = ctorhelp.NewMetadataService(nil, nil, logger)
	} else {
		db, dbErr := ctorhelp.OpenMetadataDB(cfg.CacheDir, logger)
		if dbErr != nil {
			slog.Warn("Metadata disk cache unavailable, continuing in memory", "error", dbErr)
		}
		metadata = ctorhelp.NewMetadataService(db, nil, logger)
	}
	defer func() {
		slog.Info("Closing metadata cache...")
		if err := metadata.Close(); err != nil {
			slog.Error("Error closing metadata cache", "error", err)
		}
	}()

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	slog.Info("Enabled block and mutex profiling")
	startDebugServer(cfg.DebugListenAddr)

	engine := ctorhelp.NewEngine(cfg, logger)
	lspServer := ctorhelp.NewServer(engine, ctorhelp.WorkspaceOptions{Logger: logger, Units: units, Metadata: metadata}, logger, appVersion)

	lspServer.Run(os.Stdin, os.Stdout)

	slog.Info("LSP server has shut down gracefully.")
}

// startDebugServer starts the HTTP server for pprof and expvar.
func startDebugServer(addr string) {
	go func() {
		slog.Info("Starting debug server for pprof/expvar", "addr", addr)
		debugMux := http.NewServeMux()
		debugMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/vars", expvar.Handler().ServeHTTP)
		if err := http.ListenAndServe(addr, debugMux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
