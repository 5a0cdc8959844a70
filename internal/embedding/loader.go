package embedding

import (
	"fmt"
	"net/http"
	"time"
)

// Providers.
const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"
)

// LoaderConfig selects and configures an extractor.
type LoaderConfig struct {
	Provider string
	URL      string
	Mode     string
	Timeout  time.Duration
}

// NewLoader returns the Loader for a configured provider.
func NewLoader(cfg LoaderConfig) (Loader, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return LocalLoader(), nil
	case ProviderRemote:
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote embedding provider requires a url")
		}
		if cfg.Mode != "" && cfg.Mode != ModeImage && cfg.Mode != ModeURL {
			return nil, fmt.Errorf("unknown remote embedding mode %q", cfg.Mode)
		}
		return RemoteLoader(cfg.URL, cfg.Mode, cfg.Timeout, &http.Client{}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
