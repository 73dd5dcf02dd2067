package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Log   LogConfig   `mapstructure:"log"`
	Relay RelayConfig `mapstructure:"relay"`
	Call  CallConfig  `mapstructure:"call"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// RelayConfig tunes the development relay server.
type RelayConfig struct {
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

// CallConfig is what one call participant needs to create a session.
type CallConfig struct {
	RelayURL  string `mapstructure:"relay_url"`
	AuthToken string `mapstructure:"auth_token"`
	Role      string `mapstructure:"role"`

	InitiatorRole string `mapstructure:"initiator_role"`
	PoliteRole    string `mapstructure:"polite_role"`

	GraceWindow         time.Duration `mapstructure:"grace_window"`
	SignalingGrace      time.Duration `mapstructure:"signaling_grace"`
	ReconnectWindow     time.Duration `mapstructure:"reconnect_window"`
	NegotiationDebounce time.Duration `mapstructure:"negotiation_debounce"`
	JoinTimeout         time.Duration `mapstructure:"join_timeout"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
	ICE        ICEConfig   `mapstructure:"ice"`
	Media      MediaConfig `mapstructure:"media"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICEConfig struct {
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	IncludeLoopback     bool          `mapstructure:"include_loopback"`
	UDP4Only            bool          `mapstructure:"udp4_only"`
}

type MediaConfig struct {
	Source    string `mapstructure:"source"`
	Audio     bool   `mapstructure:"audio"`
	Video     bool   `mapstructure:"video"`
	MaxWidth  int    `mapstructure:"max_width"`
	MaxHeight int    `mapstructure:"max_height"`
	RecordDir string `mapstructure:"record_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "consult-dev-secret")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("relay.join_limit", 5)
	v.SetDefault("relay.join_interval", "10s")
	v.SetDefault("relay.send_buffer", 64)

	v.SetDefault("call.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("call.auth_token", "")
	v.SetDefault("call.role", "doctor")
	v.SetDefault("call.initiator_role", "doctor")
	v.SetDefault("call.polite_role", "patient")
	v.SetDefault("call.grace_window", "10s")
	v.SetDefault("call.signaling_grace", "10s")
	v.SetDefault("call.reconnect_window", "10s")
	v.SetDefault("call.negotiation_debounce", "50ms")
	v.SetDefault("call.join_timeout", "10s")
	v.SetDefault("call.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("call.ice.disconnected_timeout", "5s")
	v.SetDefault("call.ice.failed_timeout", "25s")
	v.SetDefault("call.ice.keepalive_interval", "2s")
	v.SetDefault("call.media.source", "device")
	v.SetDefault("call.media.audio", true)
	v.SetDefault("call.media.video", true)
	v.SetDefault("call.media.max_width", 640)
	v.SetDefault("call.media.max_height", 480)
	v.SetDefault("call.media.record_dir", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when
// the file is missing. CONSULT_* environment variables override file values.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := New()
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return Unmarshal(v)
}

// New returns a viper instance with defaults and env binding, for callers
// that bind their own flags before unmarshalling.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("consult")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Call.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func (c CallConfig) validate() error {
	if c.GraceWindow <= 0 {
		return fmt.Errorf("call.grace_window must be positive, got %s", c.GraceWindow)
	}
	if c.SignalingGrace <= 0 {
		return fmt.Errorf("call.signaling_grace must be positive, got %s", c.SignalingGrace)
	}
	switch c.Media.Source {
	case "device", "synthetic":
	default:
		return fmt.Errorf("call.media.source must be device or synthetic, got %q", c.Media.Source)
	}
	return nil
}
