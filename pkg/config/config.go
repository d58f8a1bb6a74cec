// Package config resolves chatrelay settings from flags, CHATRELAY_*
// environment variables, an optional config file and a .env file, in that
// order of precedence.
package config

import (
	stderrors "errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/go-go-golems/chatrelay/pkg/inference"
	"github.com/go-go-golems/chatrelay/pkg/persistence/kvstore"
	"github.com/go-go-golems/chatrelay/pkg/relay"
)

const EnvPrefix = "CHATRELAY"

const (
	KeyConfig              = "config-file"
	KeyAddr                = "addr"
	KeyStoreBackend        = "store-backend"
	KeyStoreDSN            = "store-dsn"
	KeyRedisAddr           = "redis-addr"
	KeyEventsBackend       = "events-backend"
	KeyEventsTopic         = "events-topic"
	KeyUpstreamProvider    = "upstream-provider"
	KeyUpstreamBaseURL     = "upstream-base-url"
	KeyUpstreamModel       = "upstream-model"
	KeyUpstreamAPIKey      = "upstream-api-key"
	KeyUpstreamIdleTimeout = "upstream-idle-timeout"
	KeyActorIdleTimeout    = "actor-idle-timeout"
	KeyActorEvictInterval  = "actor-evict-interval"
	KeyPersistRetries      = "persist-retries"
	KeyPersistBackoff      = "persist-backoff"
	KeyMailboxSize         = "mailbox-size"
)

type Settings struct {
	Addr string

	StoreBackend string
	StoreDSN     string
	RedisAddr    string

	EventsBackend string
	EventsTopic   string

	UpstreamProvider    string
	UpstreamBaseURL     string
	UpstreamModel       string
	UpstreamAPIKey      string
	UpstreamIdleTimeout time.Duration

	ActorIdleTimeout   time.Duration
	ActorEvictInterval time.Duration
	PersistRetries     int
	PersistBackoff     time.Duration
	MailboxSize        int
}

// AddFlags registers every setting on fs with its default. Logging flags are
// owned by glazed and registered on the root command separately.
func AddFlags(fs *pflag.FlagSet) {
	rd := relay.DefaultOptions()

	fs.String(KeyConfig, "", "Path to a yaml or toml config file")
	fs.String(KeyAddr, ":8080", "HTTP listen address")

	fs.String(KeyStoreBackend, kvstore.BackendMemory, "History store backend (memory, sqlite, pebble, redis)")
	fs.String(KeyStoreDSN, "", "sqlite file, pebble directory or redis key prefix")
	fs.String(KeyRedisAddr, "", "Redis address for the redis store and event backends")

	fs.String(KeyEventsBackend, events.BackendNone, "Lifecycle event backend (none, memory, redis)")
	fs.String(KeyEventsTopic, events.DefaultTopic, "Topic for lifecycle events")

	fs.String(KeyUpstreamProvider, inference.ProviderEcho, "Inference provider (workersai, openai, echo)")
	fs.String(KeyUpstreamBaseURL, "", "Inference API base URL")
	fs.String(KeyUpstreamModel, "", "Model name sent to the inference API")
	fs.String(KeyUpstreamAPIKey, "", "Inference API key")
	fs.Duration(KeyUpstreamIdleTimeout, rd.UpstreamIdleTimeout, "Abort a stream when no chunk arrives within this duration (0 disables)")

	fs.Duration(KeyActorIdleTimeout, rd.ActorIdleTimeout, "Evict actors idle without a connection for this long (0 disables)")
	fs.Duration(KeyActorEvictInterval, rd.EvictInterval, "How often idle actors are swept")
	fs.Int(KeyPersistRetries, 3, "Retries for a failed history write")
	fs.Duration(KeyPersistBackoff, 100*time.Millisecond, "Initial backoff between history write retries")
	fs.Int(KeyMailboxSize, rd.MailboxSize, "Queued events per actor before readers block")
}

// NewViper binds fs and the CHATRELAY_* environment.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "config: bind flags")
	}
	return v, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "config: load %s", p)
		}
	}
	return nil
}

// Load reads the config file named by --config-file, if any, and resolves
// Settings from v.
func Load(v *viper.Viper) (Settings, error) {
	if path := strings.TrimSpace(v.GetString(KeyConfig)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "config: read %s", path)
		}
	}
	s := Settings{
		Addr:                v.GetString(KeyAddr),
		StoreBackend:        v.GetString(KeyStoreBackend),
		StoreDSN:            v.GetString(KeyStoreDSN),
		RedisAddr:           v.GetString(KeyRedisAddr),
		EventsBackend:       v.GetString(KeyEventsBackend),
		EventsTopic:         v.GetString(KeyEventsTopic),
		UpstreamProvider:    v.GetString(KeyUpstreamProvider),
		UpstreamBaseURL:     v.GetString(KeyUpstreamBaseURL),
		UpstreamModel:       v.GetString(KeyUpstreamModel),
		UpstreamAPIKey:      v.GetString(KeyUpstreamAPIKey),
		UpstreamIdleTimeout: v.GetDuration(KeyUpstreamIdleTimeout),
		ActorIdleTimeout:    v.GetDuration(KeyActorIdleTimeout),
		ActorEvictInterval:  v.GetDuration(KeyActorEvictInterval),
		PersistRetries:      v.GetInt(KeyPersistRetries),
		PersistBackoff:      v.GetDuration(KeyPersistBackoff),
		MailboxSize:         v.GetInt(KeyMailboxSize),
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	switch s.StoreBackend {
	case kvstore.BackendMemory:
	case kvstore.BackendSQLite, kvstore.BackendPebble:
		if strings.TrimSpace(s.StoreDSN) == "" {
			return errors.Errorf("config: %s store requires --%s", s.StoreBackend, KeyStoreDSN)
		}
	case kvstore.BackendRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			return errors.Errorf("config: redis store requires --%s", KeyRedisAddr)
		}
	default:
		return errors.Errorf("config: unknown store backend %q", s.StoreBackend)
	}

	switch s.EventsBackend {
	case events.BackendNone, events.BackendMemory:
	case events.BackendRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			return errors.Errorf("config: redis events require --%s", KeyRedisAddr)
		}
	default:
		return errors.Errorf("config: unknown events backend %q", s.EventsBackend)
	}

	switch s.UpstreamProvider {
	case inference.ProviderEcho:
	case inference.ProviderWorkersAI, inference.ProviderOpenAI:
		if strings.TrimSpace(s.UpstreamModel) == "" {
			return errors.Errorf("config: provider %s requires --%s", s.UpstreamProvider, KeyUpstreamModel)
		}
	default:
		return errors.Errorf("config: unknown upstream provider %q", s.UpstreamProvider)
	}

	if s.UpstreamIdleTimeout < 0 || s.ActorIdleTimeout < 0 || s.ActorEvictInterval < 0 {
		return errors.New("config: durations must not be negative")
	}
	if s.PersistRetries < 0 {
		return errors.Errorf("config: --%s must not be negative", KeyPersistRetries)
	}
	return nil
}

func (s Settings) StoreOptions() kvstore.Options {
	return kvstore.Options{Backend: s.StoreBackend, DSN: s.StoreDSN, RedisAddr: s.RedisAddr}
}

func (s Settings) EventSettings() events.Settings {
	return events.Settings{Backend: s.EventsBackend, Topic: s.EventsTopic, RedisAddr: s.RedisAddr}
}

func (s Settings) InferenceSettings() inference.Settings {
	return inference.Settings{
		Provider:       s.UpstreamProvider,
		BaseURL:        s.UpstreamBaseURL,
		Model:          s.UpstreamModel,
		APIKey:         s.UpstreamAPIKey,
		ConnectTimeout: 30 * time.Second,
	}
}

func (s Settings) RelayOptions() relay.Options {
	o := relay.DefaultOptions()
	o.UpstreamIdleTimeout = s.UpstreamIdleTimeout
	o.ActorIdleTimeout = s.ActorIdleTimeout
	o.EvictInterval = s.ActorEvictInterval
	if s.MailboxSize > 0 {
		o.MailboxSize = s.MailboxSize
	}
	return o
}
