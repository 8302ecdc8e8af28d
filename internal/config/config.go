package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the server needs. It is built once at startup
// and treated as immutable afterwards.
type Config struct {
	// Mr. Bot API connection. APIKey and Email travel as headers on every
	// outbound call and are the only values without a default.
	BaseURL string
	APIKey  string
	Email   string

	Server   ServerConfig
	Client   ClientConfig
	Sessions SessionConfig

	DataDir string
	Log     LogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	BodyLimit    string
}

type ClientConfig struct {
	// QueryTimeout bounds one consulta call; DownloadTimeout bounds one
	// object-storage fetch.
	QueryTimeout    time.Duration
	DownloadTimeout time.Duration
}

type SessionConfig struct {
	MaxAge          time.Duration
	CleanupInterval time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// ErrMissingCredentials is the only fatal configuration error: without an
// API key and email no outbound call can be authenticated.
var ErrMissingCredentials = errors.New("api key and email are required (set X_API_KEY and EMAIL)")

// Load resolves configuration from an optional config.yaml plus environment
// variables. Environment always wins.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvPrefix("MRBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		BaseURL: ensureTrailingSlash(v.GetString("base_url")),
		APIKey:  v.GetString("api_key"),
		Email:   v.GetString("email"),
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
			BodyLimit:    v.GetString("server.body_limit"),
		},
		Client: ClientConfig{
			QueryTimeout:    v.GetDuration("client.query_timeout"),
			DownloadTimeout: v.GetDuration("client.download_timeout"),
		},
		Sessions: SessionConfig{
			MaxAge:          v.GetDuration("sessions.max_age"),
			CleanupInterval: v.GetDuration("sessions.cleanup_interval"),
		},
		DataDir: v.GetString("data_dir"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	// The original deployment exported bare X_API_KEY / EMAIL, keep
	// honoring those alongside the MRBOT_ prefixed forms.
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("X_API_KEY")
	}
	if cfg.Email == "" {
		cfg.Email = os.Getenv("EMAIL")
	}

	if cfg.APIKey == "" || cfg.Email == "" {
		return nil, ErrMissingCredentials
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "https://api-bots.mrbot.com.ar/")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "300s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.body_limit", "32M")
	v.SetDefault("client.query_timeout", "120s")
	v.SetDefault("client.download_timeout", "120s")
	v.SetDefault("sessions.max_age", "30m")
	v.SetDefault("sessions.cleanup_interval", "5m")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UploadDir is where uploaded spreadsheets and generated artifacts live.
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// EnsureDirectories creates the data directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.UploadDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

func ensureTrailingSlash(url string) string {
	if url == "" || strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}
