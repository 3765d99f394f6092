// Package config loads telecore settings from defaults, an optional YAML
// file, a .env file and TELECORE_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tiatele/telecore/envelope"
	"github.com/tiatele/telecore/session"
)

const EnvPrefix = "TELECORE"

type Config struct {
	Log       Log       `mapstructure:"log"`
	API       API       `mapstructure:"api"`
	Signaling Signaling `mapstructure:"signaling"`
	Session   Session   `mapstructure:"session"`
	DevServer DevServer `mapstructure:"devserver"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is stdout, stderr or a directory for rotated log files.
	Output string `mapstructure:"output"`
}

type API struct {
	BaseURL  string `mapstructure:"base_url"`
	KeyID    string `mapstructure:"key_id"`
	ClientID string `mapstructure:"client_id"`
	// Key is a base64 AES-256 key. When empty the key is derived from Secret.
	Key     string        `mapstructure:"key"`
	Secret  string        `mapstructure:"secret"`
	Signing bool          `mapstructure:"signing"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Signaling struct {
	URL               string        `mapstructure:"url"`
	ConferenceBaseURL string        `mapstructure:"conference_base_url"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	TraceSize         int           `mapstructure:"trace_size"`
}

type Session struct {
	SessionID      string `mapstructure:"session_id"`
	UserID         string `mapstructure:"user_id"`
	OrganizationID string `mapstructure:"organization_id"`
}

type DevServer struct {
	Addr         string `mapstructure:"addr"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	RoomCapacity int    `mapstructure:"room_capacity"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("api.base_url", "http://127.0.0.1:8080")
	v.SetDefault("api.key_id", "dev")
	v.SetDefault("api.client_id", "telecore-cli")
	v.SetDefault("api.key", "")
	v.SetDefault("api.secret", "")
	v.SetDefault("api.signing", false)
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("signaling.url", "ws://127.0.0.1:8080/socket")
	v.SetDefault("signaling.conference_base_url", "")
	v.SetDefault("signaling.connect_timeout", "10s")
	v.SetDefault("signaling.request_timeout", "5s")
	v.SetDefault("signaling.reconnect_attempts", 5)
	v.SetDefault("signaling.reconnect_backoff", "500ms")
	v.SetDefault("signaling.trace_size", 16*1024)

	v.SetDefault("session.session_id", "")
	v.SetDefault("session.user_id", "")
	v.SetDefault("session.organization_id", "")

	v.SetDefault("devserver.addr", "127.0.0.1:8080")
	v.SetDefault("devserver.jwt_secret", "")
	v.SetDefault("devserver.room_capacity", 8)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// EnvelopeKey returns the shared request key.
func (a API) EnvelopeKey() (envelope.Key, error) {
	if a.Key != "" {
		return envelope.ParseKey(a.Key)
	}
	return envelope.DeriveKey([]byte(a.Secret), nil, "telecore/"+a.KeyID)
}

// SigningKey returns the request signing key, or nil when signing is off.
func (a API) SigningKey() (*envelope.Key, error) {
	if !a.Signing {
		return nil, nil
	}
	k, err := envelope.DeriveKey([]byte(a.Secret), nil, "telecore/signing")
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s Session) Context() *session.Context {
	return session.New(s.SessionID, s.UserID, s.OrganizationID)
}
