package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default upstream endpoints. Every one of them can be overridden per
// environment.
const (
	defaultCatalogURL     = "https://v3-cinemeta.strem.io"
	defaultStreamURLs     = "https://torrentio.strem.fun"
	defaultTrackerListURL = "https://cdn.jsdelivr.net/gh/ngosang/trackerslist@master/trackers_best.txt"
	defaultDHTRouters     = "dht.libtorrent.org:25401," +
		"dht.transmissionbt.com:6881," +
		"router.bittorrent.com:6881," +
		"router.utorrent.com:6881," +
		"dht.aelitis.com:6881," +
		"router.bt.ouinet.work:6881"
)

type Config struct {
	HTTPAddr string

	CatalogBaseURL     string
	StreamProviderURLs []string
	TrackerListURL     string
	DHTRouters         []string

	DataDir              string
	TrackerCachePath     string
	SessionStatePath     string
	BufferDir            string
	BufferThresholdBytes int64
	PollInterval         time.Duration

	PlayerPath string

	MongoURI      string // empty disables watch history
	MongoDatabase string

	LogLevel  string
	LogFormat string
}

func LoadConfig() Config {
	dataDir := getEnv("DATA_DIR", "data")
	return Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		CatalogBaseURL:       getEnv("CATALOG_URL", defaultCatalogURL),
		StreamProviderURLs:   splitCSV(getEnv("STREAM_PROVIDER_URLS", defaultStreamURLs)),
		TrackerListURL:       getEnv("TRACKER_LIST_URL", defaultTrackerListURL),
		DHTRouters:           splitCSV(getEnv("DHT_ROUTERS", defaultDHTRouters)),
		DataDir:              dataDir,
		TrackerCachePath:     getEnv("TRACKER_CACHE_PATH", filepath.Join(dataDir, "tracker_cache")),
		SessionStatePath:     getEnv("SESSION_STATE_PATH", filepath.Join(dataDir, "session.state")),
		BufferDir:            getEnv("BUFFER_DIR", dataDir),
		BufferThresholdBytes: getEnvInt64("BUFFER_THRESHOLD_BYTES", 50<<20),
		PollInterval:         time.Duration(getEnvInt64("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		PlayerPath:           getEnv("PLAYER_PATH", ""),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDatabase:        getEnv("MONGO_DB", "stremtui"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
