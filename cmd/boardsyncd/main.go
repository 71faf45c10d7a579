package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boardkeep/boardsync/internal/httpapi"
	"github.com/boardkeep/boardsync/internal/storage"
)

func main() {
	addr := strings.TrimSpace(os.Getenv("BOARDSYNC_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	dsn := strings.TrimSpace(os.Getenv("BOARDSYNC_STORE_DSN"))
	if dsn == "" {
		dsn = "file://./boardsync-data"
	}
	gateway, err := storage.BuildGatewayFromDSN(dsn, log.Default())
	if err != nil {
		log.Fatalf("failed to initialize storage gateway: %v", err)
	}
	defer gateway.Close()

	server := httpapi.NewServerWithConfig(gateway, httpapi.ServerConfig{
		JWTSecret:      os.Getenv("BOARDSYNC_JWT_SECRET"),
		DebounceWindow: durationEnv("BOARDSYNC_DEBOUNCE", 0),
		SaveRetrier: &storage.Retrier{
			MaxAttempts: intEnv("BOARDSYNC_SAVE_MAX_ATTEMPTS", 0),
		},
		Logger: log.Default(),
	})

	log.Printf("boardsync listening on %s (store %s)", addr, dsn)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
