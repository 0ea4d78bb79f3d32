package app

import (
	"strings"

	"joanabot/internal/config"
	"joanabot/internal/storage"
	logx "joanabot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}
}

// OpenStore loads the config at cfgPath and opens its history store, for
// commands that inspect data without running the app.
func OpenStore(cfgPath string, log logx.Logger) (storage.Store, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	return storage.Open(mapStorageConfig(cfg), log)
}
