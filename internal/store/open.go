package store

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/config"
)

const (
	BackendJSON   = "json"
	BackendBadger = "badger"
)

// Open returns the backend selected by METADATA_BACKEND.
func Open(cfg *config.Config, log zerolog.Logger) (MetadataStore, error) {
	return OpenBackend(cfg.MetadataBackend, cfg, log)
}

// OpenBackend opens a specific backend regardless of configuration.
func OpenBackend(backend string, cfg *config.Config, log zerolog.Logger) (MetadataStore, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(cfg.MetadataPath, log)
	case BackendBadger:
		return NewBadgerStore(cfg.BadgerPath, log)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", backend)
	}
}
