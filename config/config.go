package config

import (
	"errors"
	"fmt"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"rtc-soak/observer"
	"rtc-soak/scenario"
	"rtc-soak/session"
	"strings"
	"time"
)

const envPrefix = "RTCSOAK"

const (
	AudienceInteractive = "interactive"
	AudienceBroadcast   = "broadcast"

	IdentityAuto       = "auto"
	IdentitySequential = "sequential"
)

type Config struct {
	AppId          string `mapstructure:"app-id"`
	TokenServer    string `mapstructure:"token-server"`
	TokenServerKey string `mapstructure:"token-server-key" json:"-"`

	Hosts        int           `mapstructure:"hosts"`
	Audiences    int           `mapstructure:"audiences"`
	Channel      string        `mapstructure:"channel"`
	AudienceType string        `mapstructure:"audience-type"`
	Duration     time.Duration `mapstructure:"duration"`
	JoinInterval time.Duration `mapstructure:"join-interval"`

	IdentityPolicy string `mapstructure:"identity-policy"`
	IdentityBase   uint32 `mapstructure:"identity-base"`

	Scenario       string        `mapstructure:"scenario"`
	GridColumns    int           `mapstructure:"grid-columns"`
	TileHeight     int           `mapstructure:"tile-height"`
	ViewportHeight int           `mapstructure:"viewport-height"`
	ScrollInterval time.Duration `mapstructure:"scroll-interval"`
	ScrollStride   int           `mapstructure:"scroll-stride"`
	ChurnSeed      int64         `mapstructure:"churn-seed"`
	FeedListen     string        `mapstructure:"feed-listen"`

	TeardownTimeout     time.Duration `mapstructure:"teardown-timeout"`
	LoopbackLatency     time.Duration `mapstructure:"loopback-latency"`
	LoopbackFailureRate float64       `mapstructure:"loopback-failure-rate"`

	LogLevel    int    `mapstructure:"log-level"`
	LogPath     string `mapstructure:"log-path"`
	LogCompress bool   `mapstructure:"log-compress"`
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("rtc-soak", pflag.ContinueOnError)

	fs.String("config", "", "Optional YAML config file, flags and RTCSOAK_* environment variables take precedence")

	fs.String("app-id", "", "App id of the conferencing project")
	fs.String("token-server", "", "Root url of the token server, joins without a token when empty")
	fs.String("token-server-key", "", "Bearer key for the token server")

	fs.Int("hosts", 1, "Number of hosts publishing audio")
	fs.Int("audiences", 8, "Number of audience participants, one per display slot")
	fs.String("channel", "TEST", "Channel name all participants join")
	fs.String("audience-type", AudienceInteractive, "Audience latency: interactive or broadcast")
	fs.Duration("duration", time.Minute, "How long to hold the run")
	fs.Duration("join-interval", 0, "Delay between audience provisions, 0 provisions all at once")

	fs.String("identity-policy", IdentityAuto, "Identity requested on join: auto or sequential")
	fs.Uint32("identity-base", 10000, "First identity of the sequential policy")

	fs.String("scenario", scenario.Static, "Visibility scenario: "+strings.Join(scenario.Names(), ", "))
	fs.Int("grid-columns", 4, "Tiles per display grid row")
	fs.Int("tile-height", 180, "Tile height in pixels")
	fs.Int("viewport-height", 720, "Visible window height in pixels")
	fs.Duration("scroll-interval", 2*time.Second, "Delay between scenario steps")
	fs.Int("scroll-stride", 90, "Pixels scrolled per sweep step")
	fs.Int64("churn-seed", 1, "Random seed of the churn scenario")
	fs.String("feed-listen", "", "Listen address of the websocket visibility feed, disabled when empty")

	fs.Duration("teardown-timeout", 30*time.Second, "Upper bound for leaving all participants at stop")
	fs.Duration("loopback-latency", 50*time.Millisecond, "Simulated latency of every session call")
	fs.Float64("loopback-failure-rate", 0, "Probability of a simulated session call failure")

	fs.Int("log-level", 0, "Log level: -1 - Debug, 0 - Info, 1 - Warn, 2 - Error")
	fs.String("log-path", "", "Directory to the logs, otherwise will use working directory and add 'logs' to that path")
	fs.Bool("log-compress", false, "Write the log file zstd compressed")

	return fs
}

// Load resolves the configuration from args, the environment and an optional
// config file, in that order of precedence.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Usage is the flag help text.
func Usage() string {
	return newFlagSet().FlagUsages()
}

func (c *Config) Validate() error {
	if c.AppId == "" {
		return errors.New("--app-id is required and cannot be empty")
	}

	if c.Hosts < 0 || c.Audiences < 0 {
		return errors.New("--hosts and --audiences cannot be negative")
	}

	if c.Hosts+c.Audiences == 0 {
		return errors.New("total clients must be greater than 0")
	}

	if c.Channel == "" {
		return errors.New("--channel is required and cannot be empty")
	}

	if c.AudienceType != AudienceInteractive && c.AudienceType != AudienceBroadcast {
		return fmt.Errorf("--audience-type must be %s or %s, got %q", AudienceInteractive, AudienceBroadcast, c.AudienceType)
	}

	if c.Duration <= 0 {
		return errors.New("--duration must be positive")
	}

	if c.JoinInterval < 0 {
		return errors.New("--join-interval cannot be negative")
	}

	if c.IdentityPolicy != IdentityAuto && c.IdentityPolicy != IdentitySequential {
		return fmt.Errorf("--identity-policy must be %s or %s, got %q", IdentityAuto, IdentitySequential, c.IdentityPolicy)
	}

	if c.IdentityPolicy == IdentitySequential && c.IdentityBase == 0 {
		return errors.New("--identity-base must be positive for the sequential identity policy")
	}

	if !scenario.IsKnown(c.Scenario) {
		return fmt.Errorf("--scenario must be one of %s, got %q", strings.Join(scenario.Names(), ", "), c.Scenario)
	}

	if err := c.Geometry().Validate(); err != nil {
		return err
	}

	if c.Scenario != scenario.Static && c.ScrollInterval <= 0 {
		return errors.New("--scroll-interval must be positive")
	}

	if c.TeardownTimeout <= 0 {
		return errors.New("--teardown-timeout must be positive")
	}

	if c.LoopbackFailureRate < 0 || c.LoopbackFailureRate > 1 {
		return errors.New("--loopback-failure-rate must be within [0, 1]")
	}

	return nil
}

func (c *Config) LatencyTier() session.LatencyTier {
	if c.AudienceType == AudienceBroadcast {
		return session.LatencyTierBroadcast
	}
	return session.LatencyTierInteractive
}

func (c *Config) Geometry() observer.Geometry {
	return observer.Geometry{
		Columns:        c.GridColumns,
		TileHeight:     c.TileHeight,
		ViewportHeight: c.ViewportHeight,
	}
}

// HostIdentity is the identity host i asks for on join.
func (c *Config) HostIdentity(i int) session.Identity {
	if c.IdentityPolicy != IdentitySequential {
		return 0
	}
	return session.Identity(c.IdentityBase) + session.Identity(i)
}

// AudienceIdentity is the identity the audience in slot asks for on join.
// Sequential identities of audiences follow the hosts'.
func (c *Config) AudienceIdentity(slot int) session.Identity {
	if c.IdentityPolicy != IdentitySequential {
		return 0
	}
	return session.Identity(c.IdentityBase) + session.Identity(c.Hosts+slot)
}
