package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Site paths
const (
	PostLoginPath = "/sessions"
	SeriesPath    = "/series"
)

// DefaultHeaders HTTP request headers sent on every site request
var DefaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Connection":      "keep-alive",
	"Cache-Control":   "no-cache",
}

// JSONHeaders headers for JSON API requests
var JSONHeaders = map[string]string{
	"Accept":           "application/json",
	"X-Requested-With": "XMLHttpRequest",
	"Content-Type":     "application/json",
}

// Config holds all settings, loaded from the environment (a .env file is
// loaded first when present).
type Config struct {
	Email    string `env:"EMAIL"`
	Password string `env:"PASSWORD"`

	BaseURL   string `env:"BASE_URL" envDefault:"https://coursecasts.com"`
	PlayerURL string `env:"PLAYER_URL" envDefault:"https://player.coursecasts.com"`

	DownloadPath  string `env:"DOWNLOAD_PATH" envDefault:"downloads"`
	VideoQuality  string `env:"VIDEO_QUALITY" envDefault:"1080p"`
	StrictQuality bool   `env:"STRICT_QUALITY" envDefault:"false"`

	// MaxAttempts of 0 means retry transport failures until success.
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"0"`
	RetryWait   time.Duration `env:"RETRY_WAIT" envDefault:"1s"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	// The site's CDN breaks strict verification; hardened deployments can
	// turn this off.
	InsecureTLS bool `env:"INSECURE_TLS" envDefault:"true"`
}

// Load parses the configuration from the environment and expands the
// download path.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	// Expand ~ to home directory if present
	if strings.HasPrefix(cfg.DownloadPath, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DownloadPath = filepath.Join(home, cfg.DownloadPath[2:])
		}
	}

	return cfg, nil
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.Email == "" || c.Password == "" {
		return fmt.Errorf("EMAIL and PASSWORD must be set")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.PlayerURL == "" {
		return fmt.Errorf("player URL cannot be empty")
	}
	if c.DownloadPath == "" {
		return fmt.Errorf("download path cannot be empty")
	}
	if !ValidVideoQuality(c.VideoQuality) {
		return fmt.Errorf("invalid video quality: %q", c.VideoQuality)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative: %d", c.MaxAttempts)
	}
	if c.RetryWait < 0 {
		return fmt.Errorf("retry wait cannot be negative: %s", c.RetryWait)
	}
	return nil
}

// ValidVideoQuality checks if the provided quality label is valid
func ValidVideoQuality(quality string) bool {
	validQualities := map[string]bool{
		"360p":  true,
		"540p":  true,
		"720p":  true,
		"1080p": true,
	}
	return validQualities[quality]
}
