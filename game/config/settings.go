package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// EnvPrefix is prepended to every environment override, e.g. PONG_REDIS_ADDR
const EnvPrefix = "PONG"

// RedisSettings locates the shared store
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogSettings controls logrus output and lumberjack rotation
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// NgrokSettings enables a public tunnel during development
type NgrokSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Authtoken string `mapstructure:"authtoken"`
	Domain    string `mapstructure:"domain"`
}

// Settings is the full server configuration
type Settings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Debug            bool          `mapstructure:"debug"`
	Store            string        `mapstructure:"store"`
	Redis            RedisSettings `mapstructure:"redis"`
	QueueKey         string        `mapstructure:"queue_key"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	Log              LogSettings   `mapstructure:"log"`
	Ngrok            NgrokSettings `mapstructure:"ngrok"`
	Arena            state.Arena   `mapstructure:"arena"`
}

// SetDefaults registers every key so environment overrides are picked up
func SetDefaults(v *viper.Viper) {
	arena := state.DefaultArena()

	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("debug", false)
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue_key", "waiting_players")
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("operation_timeout", 5*time.Second)
	v.SetDefault("cleanup_interval", time.Hour)
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("ngrok.enabled", false)
	v.SetDefault("ngrok.authtoken", "")
	v.SetDefault("ngrok.domain", "")

	v.SetDefault("arena.width", arena.Width)
	v.SetDefault("arena.height", arena.Height)
	v.SetDefault("arena.ground_offset", arena.GroundOffset)
	v.SetDefault("arena.player_inset", arena.PlayerInset)
	v.SetDefault("arena.ball_vx", arena.BallVX)
	v.SetDefault("arena.ball_vy", arena.BallVY)
	v.SetDefault("arena.ball_lift", arena.BallLift)
}

// flagKeys maps command line flags to settings keys
var flagKeys = map[string]string{
	"host":              "host",
	"port":              "port",
	"debug":             "debug",
	"store":             "store",
	"redis-addr":        "redis.addr",
	"redis-password":    "redis.password",
	"redis-db":          "redis.db",
	"session-ttl":       "session_ttl",
	"operation-timeout": "operation_timeout",
	"allowed-origins":   "allowed_origins",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"log-file":          "log.file",
	"ngrok":             "ngrok.enabled",
	"ngrok-auth":        "ngrok.authtoken",
	"ngrok-domain":      "ngrok.domain",
}

// RegisterFlags defines the server flags on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (yaml, json, toml or properties)")
	fs.String("host", "localhost", "HTTP server host")
	fs.Int("port", 8080, "HTTP server port")
	fs.Bool("debug", false, "Enable debug logging")
	fs.String("store", StoreMemory, "Session store backend: memory or redis")
	fs.String("redis-addr", "127.0.0.1:6379", "Redis address")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database")
	fs.Duration("session-ttl", 24*time.Hour, "How long an idle session record is kept")
	fs.Duration("operation-timeout", 5*time.Second, "Timeout for each store operation")
	fs.StringSlice("allowed-origins", nil, "Accepted websocket Origin hosts (empty accepts any)")
	fs.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.String("log-file", "", "Write logs to this file with rotation")
	fs.Bool("ngrok", false, "Enable ngrok tunnel")
	fs.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	fs.String("ngrok-domain", "", "Custom ngrok domain (optional)")
	fs.Bool("version", false, "Show version information")
}

// BindFlags makes explicitly set flags override every other source
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment overrides wired
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// ngrok's own variable names are honoured too
	v.BindEnv("ngrok.authtoken", EnvPrefix+"_NGROK_AUTHTOKEN", "NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")
	v.BindEnv("ngrok.domain", EnvPrefix+"_NGROK_DOMAIN", "NGROK_DOMAIN")
	v.BindEnv("ngrok.enabled", EnvPrefix+"_NGROK_ENABLED", "NGROK_ENABLED")
	return v
}

// Load reads the optional config file and decodes the settings
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the server cannot start with
func (s *Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, s.Port)
	}
	switch s.Store {
	case StoreMemory:
	case StoreRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("%w: redis store needs redis.addr", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, s.Store)
	}
	if s.OperationTimeout < 0 || s.SessionTTL < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if err := s.Arena.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Addr is the host:port the HTTP server listens on
func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
