package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/meridianlabs/tally/api/handlers"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	HandlersConfig    handlers.Config

	// Ready reports whether dependent components (such as the event
	// indexer) have finished starting up. A nil Ready means the service
	// is ready as soon as it is listening.
	Ready func() bool

	// AllowedOrigins configures CORS. Empty disables cross-origin access.
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if err := cfg.HandlersConfig.Validate(); err != nil {
		return err
	}
	return nil
}
