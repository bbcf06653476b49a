package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddr   string
	APIURL       string
	APITimeout   time.Duration
	DBPath       string
	LogLevel     string
	LogFile      string
	DemoEmail    string
	DemoPassword string
	ConfigFile   string
}

func Load() *Config {
	return &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		APIURL:       getEnv("PLACEMAP_API_URL", "http://localhost:3000/api"),
		APITimeout:   getDuration("API_TIMEOUT", 10*time.Second),
		DBPath:       getEnv("DB_PATH", "/data/placemap.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		DemoEmail:    getEnv("DEMO_EMAIL", "admin@huasteca.mx"),
		DemoPassword: getEnv("DEMO_PASSWORD", "demo1234"),
		ConfigFile:   getEnv("PLACEMAP_CONFIG", ""),
	}
}

type fileConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	APIURL       string `toml:"api_url"`
	APITimeout   string `toml:"api_timeout"`
	DBPath       string `toml:"db_path"`
	LogLevel     string `toml:"log_level"`
	LogFile      string `toml:"log_file"`
	DemoEmail    string `toml:"demo_email"`
	DemoPassword string `toml:"demo_password"`
}

// LoadFile reads the environment like Load, then applies every key present in
// the TOML file at path and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	cfg.ConfigFile = path

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("api_url") {
		cfg.APIURL = strings.TrimSpace(raw.APIURL)
	}
	if meta.IsDefined("api_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.APITimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to parse api_timeout: %w", err)
		}
		cfg.APITimeout = d
	}
	if meta.IsDefined("db_path") {
		cfg.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("demo_email") {
		cfg.DemoEmail = strings.TrimSpace(raw.DemoEmail)
	}
	if meta.IsDefined("demo_password") {
		cfg.DemoPassword = raw.DemoPassword
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api url %q must be an absolute http(s) URL", c.APIURL))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("api timeout must be a positive duration"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if (c.DemoEmail == "") != (c.DemoPassword == "") {
		errs = append(errs, errors.New("demo email and password must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getDuration returns 0 for an unparsable value so Validate reports it.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0
	}
	return d
}
