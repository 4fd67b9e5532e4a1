package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// BackendConfig selects where the state document lives.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// LoadBackendConfig reads an optional backend settings file. A missing
// file means the local backend.
func LoadBackendConfig(path string) (*BackendConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &BackendConfig{Type: "local"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backend config %s: %w", path, err)
	}

	var cfg BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend config %s: %w", path, err)
	}
	return &cfg, nil
}

// Open returns a store for the configured backend. localPath is used when
// the backend is local.
func Open(ctx context.Context, cfg *BackendConfig, localPath string) (Store, error) {
	if cfg == nil {
		cfg = &BackendConfig{Type: "local"}
	}

	switch cfg.Type {
	case "local", "":
		return OpenFile(localPath)
	case "s3":
		return OpenS3(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
