package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings of the scheduler service.
type Config struct {
	HTTPPort        int           `yaml:"http_port"`
	SQLiteDSN       string        `yaml:"sqlite_dsn"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	LogFile         string        `yaml:"log_file"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RedisAddr       string        `yaml:"redis_addr"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	DefaultTimezone string        `yaml:"default_timezone"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		HTTPPort:        8080,
		SQLiteDSN:       "scheduler.db",
		LogLevel:        "info",
		LogFormat:       "json",
		RequestTimeout:  15 * time.Second,
		LockTTL:         30 * time.Second,
		DefaultTimezone: "UTC",
	}
}

// Source supplies the layers Load reads. Lookup resolves real environment
// variables; DotEnvPath names an optional .env file whose values apply only
// where the environment has none.
type Source struct {
	Lookup     func(key string) (string, bool)
	DotEnvPath string
}

// Load resolves configuration from the process environment and a .env file
// in the working directory.
func Load() (Config, error) {
	return LoadFrom(Source{Lookup: os.LookupEnv, DotEnvPath: ".env"})
}

// LoadFrom applies, lowest precedence first: defaults, the YAML file named by
// SCHEDULER_CONFIG_FILE, the .env file and the environment. Every invalid key
// is reported in one error.
func LoadFrom(src Source) (Config, error) {
	lookup, err := layeredLookup(src)
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if path, ok := lookup("SCHEDULER_CONFIG_FILE"); ok {
		if err := readYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	var invalid []string
	if value, ok := lookup("SCHEDULER_HTTP_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			invalid = append(invalid, "SCHEDULER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}
	if value, ok := lookup("SCHEDULER_SQLITE_DSN"); ok {
		cfg.SQLiteDSN = value
	}
	if value, ok := lookup("SCHEDULER_LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(value)
	}
	if value, ok := lookup("SCHEDULER_LOG_FORMAT"); ok {
		cfg.LogFormat = strings.ToLower(value)
	}
	if value, ok := lookup("SCHEDULER_LOG_FILE"); ok {
		cfg.LogFile = value
	}
	if value, ok := lookup("SCHEDULER_REQUEST_TIMEOUT"); ok {
		if d, err := time.ParseDuration(value); err != nil {
			invalid = append(invalid, "SCHEDULER_REQUEST_TIMEOUT")
		} else {
			cfg.RequestTimeout = d
		}
	}
	if value, ok := lookup("SCHEDULER_REDIS_ADDR"); ok {
		cfg.RedisAddr = value
	}
	if value, ok := lookup("SCHEDULER_LOCK_TTL"); ok {
		if d, err := time.ParseDuration(value); err != nil {
			invalid = append(invalid, "SCHEDULER_LOCK_TTL")
		} else {
			cfg.LockTTL = d
		}
	}
	if value, ok := lookup("SCHEDULER_DEFAULT_TIMEZONE"); ok {
		cfg.DefaultTimezone = value
	}

	invalid = append(invalid, cfg.invalidKeys(invalid)...)
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// invalidKeys checks the merged values, skipping keys already reported.
func (c Config) invalidKeys(reported []string) []string {
	seen := make(map[string]bool, len(reported))
	for _, key := range reported {
		seen[key] = true
	}
	var invalid []string
	check := func(key string, ok bool) {
		if !ok && !seen[key] {
			invalid = append(invalid, key)
		}
	}

	check("SCHEDULER_HTTP_PORT", c.HTTPPort > 0 && c.HTTPPort <= 65535)
	check("SCHEDULER_SQLITE_DSN", strings.TrimSpace(c.SQLiteDSN) != "")
	check("SCHEDULER_LOG_LEVEL", oneOf(c.LogLevel, "debug", "info", "warn", "error"))
	check("SCHEDULER_LOG_FORMAT", oneOf(c.LogFormat, "json", "text"))
	check("SCHEDULER_REQUEST_TIMEOUT", c.RequestTimeout > 0)
	// A lock must outlive the longest request that can hold it.
	check("SCHEDULER_LOCK_TTL", c.LockTTL > 0 && c.LockTTL > c.RequestTimeout)
	_, err := time.LoadLocation(c.DefaultTimezone)
	check("SCHEDULER_DEFAULT_TIMEZONE", c.DefaultTimezone != "" && err == nil)
	return invalid
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

// layeredLookup resolves a key from the environment first, then the .env
// file. Blank values count as unset.
func layeredLookup(src Source) (func(string) (string, bool), error) {
	env := src.Lookup
	if env == nil {
		env = func(string) (string, bool) { return "", false }
	}

	dotenv := map[string]string{}
	if src.DotEnvPath != "" {
		values, err := godotenv.Read(src.DotEnvPath)
		switch {
		case err == nil:
			dotenv = values
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", src.DotEnvPath, err)
		}
	}

	return func(key string) (string, bool) {
		if value, ok := env(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
		if value, ok := dotenv[key]; ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
		return "", false
	}, nil
}

func readYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
