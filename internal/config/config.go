package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/call"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Identity struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
	AvatarRef   string `mapstructure:"avatar_ref"`
}

type Timeouts struct {
	Ringing        time.Duration `mapstructure:"ringing"`
	Connecting     time.Duration `mapstructure:"connecting"`
	Negotiation    time.Duration `mapstructure:"negotiation"`
	ErrorGrace     time.Duration `mapstructure:"error_grace"`
	SignalingGrace time.Duration `mapstructure:"signaling_grace"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	RelayPort  int           `mapstructure:"relay_port"`
	RelayURL   string        `mapstructure:"relay_url"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Identity   Identity            `mapstructure:"identity"`
	ICEServers []string            `mapstructure:"ice_servers"`
	Timeouts   Timeouts            `mapstructure:"timeouts"`
	Groups     map[string][]string `mapstructure:"groups"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, "dev" by default.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFrom(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFrom reads the given file on top of the defaults. A missing file is
// not an error. CALL_* environment variables override both.
func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("call")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("identity", cfg.Identity.ID).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := call.DefaultTimeouts()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("relay_port", 8090)
	v.SetDefault("relay_url", "ws://localhost:8090/api/ws/signal")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("identity.id", "")
	v.SetDefault("identity.display_name", "")
	v.SetDefault("identity.avatar_ref", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("timeouts.ringing", d.Ringing)
	v.SetDefault("timeouts.connecting", d.Connecting)
	v.SetDefault("timeouts.negotiation", d.Negotiation)
	v.SetDefault("timeouts.error_grace", d.ErrorGrace)
	v.SetDefault("timeouts.signaling_grace", d.SignalingGrace)
}

func (c *Config) validate() error {
	if c.Identity.ID == "" {
		return nil
	}
	if err := domain.ParticipantID(c.Identity.ID).Validate(); err != nil {
		return fmt.Errorf("identity.id: %w", err)
	}
	return nil
}

// CallTimeouts converts the timeouts section, keeping defaults for unset
// or non-positive values.
func (c *Config) CallTimeouts() call.Timeouts {
	t := call.DefaultTimeouts()
	pick := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&t.Ringing, c.Timeouts.Ringing)
	pick(&t.Connecting, c.Timeouts.Connecting)
	pick(&t.Negotiation, c.Timeouts.Negotiation)
	pick(&t.ErrorGrace, c.Timeouts.ErrorGrace)
	pick(&t.SignalingGrace, c.Timeouts.SignalingGrace)
	return t
}

// Self builds the local participant for the call core.
func (c *Config) Self() (domain.Participant, error) {
	return domain.NewParticipant(domain.ParticipantID(c.Identity.ID), c.Identity.DisplayName, c.Identity.AvatarRef)
}
