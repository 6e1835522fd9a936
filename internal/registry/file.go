package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// FileConfig is the on-disk registry configuration loaded at startup.
type FileConfig struct {
	TLDs       []*TLD       `json:"tlds"`
	Registrars []*Registrar `json:"registrars"`
}

// LoadFile reads a JSON registry configuration and builds a provider
// over it.
func LoadFile(path string) (*StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry config: %w", err)
	}
	var cfg FileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config %s: %w", path, err)
	}
	if len(cfg.TLDs) == 0 {
		return nil, fmt.Errorf("registry config %s lists no TLDs", path)
	}
	for _, t := range cfg.TLDs {
		if t.Name == "" {
			return nil, fmt.Errorf("registry config %s has a TLD without a name", path)
		}
	}
	return NewStaticProvider(cfg.TLDs, cfg.Registrars), nil
}
