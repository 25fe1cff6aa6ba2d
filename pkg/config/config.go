package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file, then overlaid with environment
// variables (optionally loaded from .env files). All fields are optional;
// accessors apply defaults.
//
// Example (~/.chatengine/config.yaml):
//
// server:
//   host: 0.0.0.0
//   port: 3000
// auth:
//   endpoint_api_key: change-me
// database:
//   driver: postgres
//   dsn: host=localhost user=chat password=chat dbname=chat sslmode=disable
// model:
//   provider: openai
//   api_key: sk-...
//   model: gpt-4o
// moderation:
//   enabled: true
// turn:
//   history_budget: 10000
//   timeout: 60s
// lock:
//   backend: database
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
type AppConfig struct {
	Environment string           `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	Auth        AuthConfig       `yaml:"auth"`
	Database    DatabaseConfig   `yaml:"database"`
	Model       ModelConfig      `yaml:"model"`
	Moderation  ModerationConfig `yaml:"moderation"`
	Turn        TurnConfig       `yaml:"turn"`
	Lock        LockConfig       `yaml:"lock"`
	Logging     LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type AuthConfig struct {
	EndpointAPIKey string `yaml:"endpoint_api_key"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`
}

type ModelConfig struct {
	Provider string         `yaml:"provider"`
	BaseURL  string         `yaml:"base_url"`
	APIKey   string         `yaml:"api_key"`
	Model    string         `yaml:"model"`
	Extra    map[string]any `yaml:"extra"`
}

type ModerationConfig struct {
	Enabled *bool  `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type TurnConfig struct {
	HistoryBudget *int           `yaml:"history_budget"`
	Timeout       *time.Duration `yaml:"timeout"`
}

type LockConfig struct {
	Backend       string `yaml:"backend"` // database or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 3000
	DefaultDriver        = "sqlite"
	DefaultProvider      = "openai"
	DefaultChatModel     = "gpt-4o"
	DefaultModeration    = "omni-moderation-latest"
	DefaultHistoryBudget = 10000
	DefaultTurnTimeout   = 60 * time.Second
	DefaultLockBackend   = "database"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".chatengine")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads the config file at path (or the default path when empty) and
// applies environment overrides. A missing file is not an error.
func Load(path string) (*AppConfig, string, error) {
	configFile := path
	if configFile == "" {
		_, p, err := DefaultPaths()
		if err != nil {
			return nil, "", err
		}
		configFile = p
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	cfg.applyEnv()

	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// LoadEnvFiles loads .env and .env.local from the working directory.
// godotenv.Load does not overwrite variables that are already set.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = &p
		}
	}
	if v := os.Getenv("ENDPOINT_API_KEY"); v != "" {
		c.Auth.EndpointAPIKey = v
	}

	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	} else if c.Database.DSN == "" {
		if dsn := postgresDSNFromEnv(); dsn != "" {
			c.Database.Driver = "postgres"
			c.Database.DSN = dsn
		}
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("MODEL"); v != "" {
		c.Model.Model = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Model.APIKey == "" && c.ModelProvider() == "openai" {
			c.Model.APIKey = v
		}
		if c.Moderation.APIKey == "" {
			c.Moderation.APIKey = v
		}
	}

	if v := os.Getenv("MODERATION_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Moderation.Enabled = &enabled
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Lock.RedisAddr = v
		if c.Lock.Backend == "" {
			c.Lock.Backend = "redis"
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func postgresDSNFromEnv() string {
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbName := os.Getenv("POSTGRES_DB")
	if user == "" || dbName == "" {
		return ""
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, dbName)
}

// Validate reports every required setting that is missing, mirroring the
// startup check of required environment variables.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Auth.EndpointAPIKey == "" {
		missing = append(missing, "auth.endpoint_api_key (ENDPOINT_API_KEY)")
	}
	if c.Model.APIKey == "" && c.ModelProvider() != "ollama" {
		missing = append(missing, "model.api_key (AI_API_KEY)")
	}
	if c.Moderation.Enabled == nil && c.ModelProvider() != "openai" {
		// Only OpenAI has a moderation default; anything else must opt in or out.
		missing = append(missing, fmt.Sprintf("moderation.enabled (MODERATION_ENABLED) for provider %s", c.ModelProvider()))
	}
	if c.ModerationEnabled() && c.ModerationAPIKey() == "" {
		missing = append(missing, "moderation.api_key (OPENAI_API_KEY)")
	}
	if c.LockBackend() == "redis" && c.Lock.RedisAddr == "" {
		missing = append(missing, "lock.redis_addr (REDIS_ADDR)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Database: DatabaseConfig{Driver: DefaultDriver, DSN: filepath.Join(configDir, "chatengine.db")},
		Model:    ModelConfig{Provider: DefaultProvider, Model: DefaultChatModel},
		Turn:     TurnConfig{HistoryBudget: ptr(DefaultHistoryBudget)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// IsDevelopment reports whether the service runs in development mode.
func (c *AppConfig) IsDevelopment() bool {
	return c != nil && strings.EqualFold(c.Environment, "development")
}

func (c *AppConfig) DatabaseDriver() string {
	if c == nil || c.Database.Driver == "" {
		return DefaultDriver
	}
	return strings.ToLower(c.Database.Driver)
}

// DatabaseDSN returns the configured DSN. SQLite falls back to a file under
// the config directory.
func (c *AppConfig) DatabaseDSN() string {
	if c != nil && c.Database.DSN != "" {
		return c.Database.DSN
	}
	if configDir, _, err := DefaultPaths(); err == nil {
		return filepath.Join(configDir, "chatengine.db")
	}
	return "chatengine.db"
}

func (c *AppConfig) ModelProvider() string {
	if c == nil || c.Model.Provider == "" {
		return DefaultProvider
	}
	return strings.ToLower(c.Model.Provider)
}

func (c *AppConfig) ModelName() string {
	if c == nil || c.Model.Model == "" {
		return DefaultChatModel
	}
	return c.Model.Model
}

// ModerationEnabled defaults to true only when the model provider is OpenAI,
// since no other provider exposes a moderation endpoint.
func (c *AppConfig) ModerationEnabled() bool {
	if c == nil {
		return false
	}
	if c.Moderation.Enabled != nil {
		return *c.Moderation.Enabled
	}
	return c.ModelProvider() == "openai"
}

func (c *AppConfig) ModerationAPIKey() string {
	if c == nil {
		return ""
	}
	if c.Moderation.APIKey != "" {
		return c.Moderation.APIKey
	}
	if c.ModelProvider() == "openai" {
		return c.Model.APIKey
	}
	return ""
}

func (c *AppConfig) ModerationModel() string {
	if c == nil || c.Moderation.Model == "" {
		return DefaultModeration
	}
	return c.Moderation.Model
}

func (c *AppConfig) HistoryBudget() int {
	if c == nil || c.Turn.HistoryBudget == nil || *c.Turn.HistoryBudget <= 0 {
		return DefaultHistoryBudget
	}
	return *c.Turn.HistoryBudget
}

func (c *AppConfig) TurnTimeout() time.Duration {
	if c == nil || c.Turn.Timeout == nil || *c.Turn.Timeout <= 0 {
		return DefaultTurnTimeout
	}
	return *c.Turn.Timeout
}

func (c *AppConfig) LockBackend() string {
	if c == nil || c.Lock.Backend == "" {
		return DefaultLockBackend
	}
	return strings.ToLower(c.Lock.Backend)
}

func ptr[T any](v T) *T { return &v }
