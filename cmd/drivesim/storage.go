package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	gormstorage "github.com/ImmersiveDrive/simclient/internal/storage/gorm"
	"github.com/ImmersiveDrive/simclient/internal/storage/memory"
	sqlitestorage "github.com/ImmersiveDrive/simclient/internal/storage/sqlite"
	wsstorage "github.com/ImmersiveDrive/simclient/internal/storage/websocket"
)

func createStorageBackend(settings config.Settings, sessionStart time.Time, logger *slog.Logger) (storage.Backend, error) {
	storageCfg := settings.Storage
	switch storageCfg.Type {
	case "postgres":
		return gormstorage.New(gormstorage.Dependencies{Logger: logger}), nil

	case "sqlite":
		dumpPath := filepath.Join(storageCfg.SQLite.DumpDir, fmt.Sprintf("%s_%s.db", AppName, sessionStart.Format("20060102_150405")))
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         storageCfg.SQLite.Path,
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return backend, nil

	case "websocket":
		wsURL := httpToWS(settings.API.ServerURL) + "/api"
		logger.Info("Streaming telemetry", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: settings.API.APIKey,
		}, logger), nil

	case "none":
		return storage.Noop{}, nil

	default:
		return memory.New(storageCfg.Memory), nil
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
