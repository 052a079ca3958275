// Package config loads and persists the tool configuration, including the
// encrypted session blob handed over by the session layer.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the persisted tool configuration.
type Config struct {
	Username      string  `mapstructure:"username"`
	Root          string  `mapstructure:"root"`
	Workers       int     `mapstructure:"workers"`
	BandwidthMbit float64 `mapstructure:"bandwidth_mbit"`
	Interface     string  `mapstructure:"interface"`
	TargetHeight  int     `mapstructure:"target_height"`
	LogLevel      string  `mapstructure:"log_level"`
	LogFile       string  `mapstructure:"log_file"`
	// Session is the base64 encoded encrypted session blob.
	Session string `mapstructure:"session"`

	v    *viper.Viper
	path string
}

func defaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "moodle-mirror.yaml"
	}
	return filepath.Join(home, ".config", "moodle-mirror", "config.yaml")
}

// Load reads the config file, falling back to defaults when it does not
// exist yet. An empty path uses the per-user default location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("root", ".")
	v.SetDefault("workers", 4)
	v.SetDefault("bandwidth_mbit", 0)
	v.SetDefault("target_height", 720)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{v: v, path: path}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the current configuration back to its file.
func (c *Config) Save() error {
	c.v.Set("username", c.Username)
	c.v.Set("root", c.Root)
	c.v.Set("workers", c.Workers)
	c.v.Set("bandwidth_mbit", c.BandwidthMbit)
	c.v.Set("interface", c.Interface)
	c.v.Set("target_height", c.TargetHeight)
	c.v.Set("log_level", c.LogLevel)
	c.v.Set("log_file", c.LogFile)
	c.v.Set("session", c.Session)

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	return c.v.WriteConfigAs(c.path)
}

// SessionBlob decodes the stored session blob, nil when absent or invalid.
func (c *Config) SessionBlob() []byte {
	if c.Session == "" {
		return nil
	}
	blob, err := base64.StdEncoding.DecodeString(c.Session)
	if err != nil {
		return nil
	}
	return blob
}

// SetSessionBlob stores an encrypted session blob, or clears it with nil.
func (c *Config) SetSessionBlob(blob []byte) {
	if blob == nil {
		c.Session = ""
		return
	}
	c.Session = base64.StdEncoding.EncodeToString(blob)
}
