package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMAIL", "jane@example.com")
	t.Setenv("PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://coursecasts.com", cfg.BaseURL)
	assert.Equal(t, "1080p", cfg.VideoQuality)
	assert.Equal(t, 0, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryWait)
	assert.True(t, cfg.InsecureTLS)
	assert.False(t, cfg.StrictQuality)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Email:        "jane@example.com",
			Password:     "secret",
			BaseURL:      "https://coursecasts.com",
			PlayerURL:    "https://player.coursecasts.com",
			DownloadPath: "downloads",
			VideoQuality: "720p",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing credentials", func(c *Config) { c.Password = "" }, "EMAIL and PASSWORD"},
		{"bad quality", func(c *Config) { c.VideoQuality = "4k" }, "invalid video quality"},
		{"negative attempts", func(c *Config) { c.MaxAttempts = -1 }, "max attempts"},
		{"empty download path", func(c *Config) { c.DownloadPath = "" }, "download path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidVideoQuality(t *testing.T) {
	assert.True(t, ValidVideoQuality("360p"))
	assert.True(t, ValidVideoQuality("1080p"))
	assert.False(t, ValidVideoQuality("240p"))
	assert.False(t, ValidVideoQuality(""))
}
