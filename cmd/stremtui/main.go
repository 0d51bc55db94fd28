package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "github.com/edu292/stremtui/internal/api/http"
	"github.com/edu292/stremtui/internal/app"
	"github.com/edu292/stremtui/internal/catalog"
	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/domain/ports"
	"github.com/edu292/stremtui/internal/engine/anacrolix"
	historymongo "github.com/edu292/stremtui/internal/history/mongo"
	"github.com/edu292/stremtui/internal/metrics"
	"github.com/edu292/stremtui/internal/playback"
	"github.com/edu292/stremtui/internal/player"
	"github.com/edu292/stremtui/internal/session"
	"github.com/edu292/stremtui/internal/streams"
	"github.com/edu292/stremtui/internal/telemetry"
	"github.com/edu292/stremtui/internal/trackers"
)

var (
	flagAddr       string
	flagDataDir    string
	flagPlayerPath string
)

var rootCmd = &cobra.Command{
	Use:   "stremtui",
	Short: "Torrent stream acquisition and playback orchestrator",
	Long: `stremtui searches catalog and stream-provider addons, registers the chosen
stream with an embedded torrent engine, buffers the head of the selected file
and hands it to mpv. A small HTTP API (SSE + WebSocket) exposes search,
stream lookup and playback control to UI frontends.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "HTTP listen address (overrides HTTP_ADDR)")
	rootCmd.Flags().StringVarP(&flagDataDir, "data-dir", "d", "", "download directory (overrides DATA_DIR)")
	rootCmd.Flags().StringVar(&flagPlayerPath, "player", "", "path to the mpv binary (overrides PLAYER_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg := app.LoadConfig()
	if flagAddr != "" {
		cfg.HTTPAddr = flagAddr
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagPlayerPath != "" {
		cfg.PlayerPath = flagPlayerPath
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(cmd.Context(), "stremtui")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("dataDir", cfg.DataDir),
		slog.String("catalogURL", cfg.CatalogBaseURL),
		slog.Int("streamProviders", len(cfg.StreamProviderURLs)),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if cfg.BufferDir != cfg.DataDir {
		if err := os.MkdirAll(cfg.BufferDir, 0o755); err != nil {
			return fmt.Errorf("create buffer dir: %w", err)
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One shared upstream client so every addon request carries trace context.
	upstream := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	defer upstream.CloseIdleConnections()

	trackerCache := trackers.New(cfg.TrackerCachePath, cfg.TrackerListURL, upstream, logger)
	sessionStore := session.NewStore(cfg.SessionStatePath)

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir: cfg.DataDir,
		Routers: cfg.DHTRouters,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("torrent engine init: %w", err)
	}

	if blob, ok, err := sessionStore.Load(); err != nil {
		logger.Warn("session state load failed", slog.String("error", err.Error()))
	} else if ok {
		if err := engine.SeedState(blob); err != nil {
			logger.Warn("session state seed failed", slog.String("error", err.Error()))
		}
	}

	var history ports.WatchHistory
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		mongoClient, err = mongo.Connect(connectCtx,
			mongooptions.Client().ApplyURI(cfg.MongoURI).SetMonitor(otelmongo.NewMonitor()),
		)
		if err == nil {
			err = mongoClient.Ping(connectCtx, readpref.Primary())
		}
		cancel()
		if err != nil {
			// History is an optional convenience; a dead Mongo must not keep
			// playback from working.
			logger.Warn("mongo unavailable, watch history disabled", slog.String("error", err.Error()))
			mongoClient = nil
		} else {
			history = historymongo.NewWatchHistoryRepository(mongoClient, cfg.MongoDatabase)
			logger.Info("watch history enabled", slog.String("database", cfg.MongoDatabase))
		}
	}

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, upstream)
	catalogAgg := catalog.NewAggregator(catalogClient, domain.ContentTypes, 15*time.Second, logger)

	providers := make([]streams.Provider, 0, len(cfg.StreamProviderURLs))
	for _, baseURL := range cfg.StreamProviderURLs {
		providers = append(providers, streams.NewHTTPProvider(providerName(baseURL), baseURL, upstream))
	}
	streamAgg := streams.NewAggregator(providers, 20*time.Second, logger)

	mpv := player.NewMPV(cfg.PlayerPath, logger)

	var server *apihttp.Server
	controller := playback.NewController(engine, mpv, trackerCache, history,
		playback.Config{
			BufferDir:       cfg.BufferDir,
			BufferThreshold: cfg.BufferThresholdBytes,
			PollInterval:    cfg.PollInterval,
		},
		logger,
		func(update domain.ProgressUpdate) {
			if server != nil {
				server.PublishProgress(update)
			}
		},
	)

	serverOptions := []apihttp.ServerOption{apihttp.WithLogger(logger)}
	if history != nil {
		serverOptions = append(serverOptions, apihttp.WithHistory(history))
	}
	server = apihttp.NewServer(catalogAgg, catalogClient, streamAgg, controller, serverOptions...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE responses stay open
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	controller.Stop()
	streamAgg.Stop()
	server.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	if blob, err := engine.StateBlob(); err != nil {
		logger.Warn("session state snapshot failed", slog.String("error", err.Error()))
	} else if err := sessionStore.Save(blob); err != nil {
		logger.Warn("session state save failed", slog.String("error", err.Error()))
	}

	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// providerName derives a short label from a provider base URL, used in logs
// and metrics.
func providerName(baseURL string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	if host, _, found := strings.Cut(name, "/"); found {
		name = host
	}
	return name
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
