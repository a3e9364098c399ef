// control/config.go
// License: Apache-2.0
//
// YAML-based configuration loading with environment overrides.

package control

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of a hioload-flux process.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds listener and per-connection limits.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	TLSCertFile       string        `mapstructure:"tls_cert_file"`
	TLSKeyFile        string        `mapstructure:"tls_key_file"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestBytes   int           `mapstructure:"max_request_bytes"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	MaxMessageBytes   int           `mapstructure:"max_message_bytes"`
	ReceiveBufferSize int           `mapstructure:"receive_buffer_size"`
	ReusePort         bool          `mapstructure:"reuse_port"`
}

// ClientConfig holds the settings of the bundled client.
type ClientConfig struct {
	Addr               string        `mapstructure:"addr"`
	TLS                bool          `mapstructure:"tls"`
	CAFile             string        `mapstructure:"ca_file"`
	ServerName         string        `mapstructure:"server_name"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EnvPrefix prefixes environment overrides, e.g. FLUX_SERVER_LISTEN_ADDR.
const EnvPrefix = "FLUX"

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxRequestBytes:   8 << 20,
			MaxHeaderBytes:    64 << 10,
			MaxMessageBytes:   16 << 20,
			ReceiveBufferSize: 16 << 10,
		},
		Client: ClientConfig{
			Addr:    "127.0.0.1:8080",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: false,
			Rotation: RotationConfig{
				Filename:   "logs/flux.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// $FLUX_CONFIG or flux.yaml in the common locations, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_, cfg, err := load(path)
	return cfg, err
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func load(path string) (*viper.Viper, *Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, Default())

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flux")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".flux"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults registers every key so env-only configs work.
func seedDefaults(v *viper.Viper, cfg *Config) {
	s := cfg.Server
	v.SetDefault("server.listen_addr", s.ListenAddr)
	v.SetDefault("server.tls_cert_file", s.TLSCertFile)
	v.SetDefault("server.tls_key_file", s.TLSKeyFile)
	v.SetDefault("server.read_timeout", s.ReadTimeout)
	v.SetDefault("server.write_timeout", s.WriteTimeout)
	v.SetDefault("server.idle_timeout", s.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)
	v.SetDefault("server.max_request_bytes", s.MaxRequestBytes)
	v.SetDefault("server.max_header_bytes", s.MaxHeaderBytes)
	v.SetDefault("server.max_message_bytes", s.MaxMessageBytes)
	v.SetDefault("server.receive_buffer_size", s.ReceiveBufferSize)
	v.SetDefault("server.reuse_port", s.ReusePort)

	c := cfg.Client
	v.SetDefault("client.addr", c.Addr)
	v.SetDefault("client.tls", c.TLS)
	v.SetDefault("client.ca_file", c.CAFile)
	v.SetDefault("client.server_name", c.ServerName)
	v.SetDefault("client.insecure_skip_verify", c.InsecureSkipVerify)
	v.SetDefault("client.timeout", c.Timeout)

	l := cfg.Log
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.outputs", l.Outputs)
	v.SetDefault("log.development", l.Development)
	v.SetDefault("log.rotation.enable", l.Rotation.Enable)
	v.SetDefault("log.rotation.filename", l.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", l.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", l.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", l.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", l.Rotation.Compress)
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	s := &c.Server
	if strings.TrimSpace(s.ListenAddr) == "" {
		return errors.New("server.listen_addr is required")
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file must be set together")
	}
	for name, d := range map[string]time.Duration{
		"server.read_timeout":     s.ReadTimeout,
		"server.write_timeout":    s.WriteTimeout,
		"server.idle_timeout":     s.IdleTimeout,
		"server.shutdown_timeout": s.ShutdownTimeout,
		"client.timeout":          c.Client.Timeout,
	} {
		if d < 0 {
			return fmt.Errorf("invalid %s: %s", name, d)
		}
	}
	if s.MaxRequestBytes < 0 || s.MaxHeaderBytes < 0 || s.MaxMessageBytes < 0 {
		return errors.New("server size limits must not be negative")
	}
	return nil
}
