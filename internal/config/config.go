// Package config loads runtime configuration: struct defaults first,
// then EMBER_-prefixed environment overrides. EMBER_ROOM_IDLE_TIMEOUT
// maps to room.idle_timeout, and so on.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Matcher   MatcherConfig   `koanf:"matcher"`
	Match     MatchConfig     `koanf:"match"`
	Room      RoomConfig      `koanf:"room"`
	Relay     RelayConfig     `koanf:"relay"`
	Session   SessionConfig   `koanf:"session"`
	Events    EventsConfig    `koanf:"events"`
	Directory DirectoryConfig `koanf:"directory"`
	Scoring   ScoringConfig   `koanf:"scoring"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Timeout   time.Duration `koanf:"timeout"`
}

type MatcherConfig struct {
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	CandidateLimit int           `koanf:"candidate_limit"`
	StarveAfter    time.Duration `koanf:"starve_after"`
}

type MatchConfig struct {
	AcceptTimeout time.Duration `koanf:"accept_timeout"`
	RetainFor     time.Duration `koanf:"retain_for"`
}

type RoomConfig struct {
	GracePeriod time.Duration `koanf:"grace_period"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

type RelayConfig struct {
	BufferSize int           `koanf:"buffer_size"`
	BufferTTL  time.Duration `koanf:"buffer_ttl"`
}

type SessionConfig struct {
	SendBuffer        int           `koanf:"send_buffer"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	HeartbeatMisses   int           `koanf:"heartbeat_misses"`
}

type EventsConfig struct {
	Buffer     int `koanf:"buffer"`
	RetryLimit int `koanf:"retry_limit"`
}

type DirectoryConfig struct {
	BaseURL          string        `koanf:"base_url"`
	Timeout          time.Duration `koanf:"timeout"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	RetryMaxInterval time.Duration `koanf:"retry_max_interval"`
}

// ScoringConfig mirrors the scorer weights so operators can rebalance
// dimensions without a rebuild.
type ScoringConfig struct {
	Age         float64 `koanf:"age"`
	Distance    float64 `koanf:"distance"`
	Interests   float64 `koanf:"interests"`
	Languages   float64 `koanf:"languages"`
	Ethnicity   float64 `koanf:"ethnicity"`
	Intent      float64 `koanf:"intent"`
	FamilyPlans float64 `koanf:"family_plans"`
	Religion    float64 `koanf:"religion"`
	Education   float64 `koanf:"education"`
	Politics    float64 `koanf:"politics"`
	Lifestyle   float64 `koanf:"lifestyle"`
	Premium     float64 `koanf:"premium"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Auth:   AuthConfig{JWTSecret: "dev-secret-change-me", Timeout: 10 * time.Second},
		Matcher: MatcherConfig{
			SweepInterval:  time.Second,
			CandidateLimit: 50,
			StarveAfter:    30 * time.Second,
		},
		Match: MatchConfig{
			AcceptTimeout: 45 * time.Second,
			RetainFor:     60 * time.Second,
		},
		Room: RoomConfig{
			GracePeriod: 15 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		Relay: RelayConfig{
			BufferSize: 32,
			BufferTTL:  10 * time.Second,
		},
		Session: SessionConfig{
			SendBuffer:        256,
			HeartbeatInterval: 20 * time.Second,
			HeartbeatMisses:   2,
		},
		Events: EventsConfig{Buffer: 256, RetryLimit: 2},
		Directory: DirectoryConfig{
			BaseURL:          "http://localhost:9090",
			Timeout:          2 * time.Second,
			RetryAttempts:    2,
			RetryMaxInterval: 500 * time.Millisecond,
		},
		Scoring: ScoringConfig{
			Age:         15,
			Distance:    15,
			Interests:   15,
			Languages:   5,
			Ethnicity:   5,
			Intent:      10,
			FamilyPlans: 10,
			Religion:    5,
			Education:   5,
			Politics:    5,
			Lifestyle:   5,
			Premium:     5,
		},
	}
}

const envPrefix = "EMBER_"

// Load builds the configuration from defaults plus environment overrides.
func Load() (*Config, error) {
	k := koanf.New(".")

	def := defaults()
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
