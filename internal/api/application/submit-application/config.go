package submitapplication

import (
	"time"

	"btr-application-api/internal/common/config"
)

type Config struct {
	Timeout             time.Duration
	MaxBodyBytes        int64
	RejectUnknownFields bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      10 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// ConfigFromAPI builds the handler config from the api section.
func ConfigFromAPI(api config.APIConfig) *Config {
	cfg := LoadConfig()
	if api.RequestTimeout > 0 {
		cfg.Timeout = api.RequestTimeoutDuration()
	}
	if api.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = api.MaxBodyBytes
	}
	cfg.RejectUnknownFields = api.RejectUnknownFields
	return cfg
}
