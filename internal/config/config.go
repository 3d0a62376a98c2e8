package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TEAMROOM"

// Store backends for the persisted room slot.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Client struct {
	APIURL       string        `mapstructure:"api_url"`
	WSURL        string        `mapstructure:"ws_url"`
	Token        string        `mapstructure:"token"`
	Email        string        `mapstructure:"email"`
	Password     string        `mapstructure:"password"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LeaveGuard   time.Duration `mapstructure:"leave_guard"`
	HistoryLimit int           `mapstructure:"history_limit"`
	AvatarBase   string        `mapstructure:"avatar_base"`
	Store        string        `mapstructure:"store"`
	StorePath    string        `mapstructure:"store_path"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisKey     string        `mapstructure:"redis_key"`
	LogLevel     string        `mapstructure:"log_level"`
}

type Server struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	MinMatch   int           `mapstructure:"min_match"`
	MaxRoom    int           `mapstructure:"max_room"`
	ChatLimit  int           `mapstructure:"chat_limit"`
	ChatWindow time.Duration `mapstructure:"chat_window"`
	LogLevel   string        `mapstructure:"log_level"`
}

// ClientFlags declares the command line overrides for the client.
func ClientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("teamroom", pflag.ContinueOnError)
	fs.String("api-url", "", "backend base URL")
	fs.String("ws-url", "", "push channel base URL (defaults to api-url)")
	fs.String("token", "", "bearer token")
	fs.String("email", "", "login email, used when no token is set")
	fs.String("password", "", "login password")
	fs.String("store", "", "room store: file, redis or memory")
	fs.String("store-path", "", "room file for the file store")
	fs.String("redis-addr", "", "redis address for the redis store")
	fs.String("log-level", "", "log level")
	return fs
}

// ServerFlags declares the command line overrides for the mock backend.
func ServerFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mockserver", pflag.ContinueOnError)
	fs.String("mode", "", "gin mode: debug or release")
	fs.Int("port", 0, "listen port")
	fs.Int("min-match", 0, "queued users needed to form a room")
	fs.Int("max-room", 0, "room capacity")
	fs.String("log-level", "", "log level")
	return fs
}

func LoadClient(flags *pflag.FlagSet) (*Client, error) {
	return loadClient(afero.NewOsFs(), flags)
}

func LoadServer(flags *pflag.FlagSet) (*Server, error) {
	return loadServer(afero.NewOsFs(), flags)
}

func loadClient(fs afero.Fs, flags *pflag.FlagSet) (*Client, error) {
	v := newViper(fs)
	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("ws_url", "")
	v.SetDefault("token", "")
	v.SetDefault("email", "")
	v.SetDefault("password", "")
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("leave_guard", "500ms")
	v.SetDefault("history_limit", 10)
	v.SetDefault("avatar_base", "https://api.dicebear.com/7.x/avataaars/svg")
	v.SetDefault("store", StoreFile)
	v.SetDefault("store_path", defaultStorePath())
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_key", "teamroom:active_room")
	v.SetDefault("log_level", "info")

	var cfg Client
	if err := load(v, flags, &cfg); err != nil {
		return nil, err
	}
	if cfg.WSURL == "" {
		cfg.WSURL = cfg.APIURL
	}
	switch cfg.Store {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	log.Info().Str("module", "config").Str("api", cfg.APIURL).Str("store", cfg.Store).Msg("client config loaded")
	return &cfg, nil
}

func loadServer(fs afero.Fs, flags *pflag.FlagSet) (*Server, error) {
	v := newViper(fs)
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("min_match", 2)
	v.SetDefault("max_room", 4)
	v.SetDefault("chat_limit", 10)
	v.SetDefault("chat_window", "5s")
	v.SetDefault("log_level", "info")

	var cfg Server
	if err := load(v, flags, &cfg); err != nil {
		return nil, err
	}
	if cfg.MinMatch < 1 || cfg.MaxRoom < cfg.MinMatch {
		return nil, fmt.Errorf("invalid room sizes: min_match=%d max_room=%d", cfg.MinMatch, cfg.MaxRoom)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("server config loaded")
	return &cfg, nil
}

func newViper(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// load reads config/config.{CONFIG_ENV}.yaml over the defaults, then env
// and flags, and decodes into out. A missing file is not an error.
func load(v *viper.Viper, flags *pflag.FlagSet, out any) error {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return fmt.Errorf("failed to parse %s: %w", fileName, err)
		}
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config file loaded")
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".teamroom/room.json"
	}
	return dir + "/teamroom/room.json"
}
