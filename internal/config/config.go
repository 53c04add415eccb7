// Package config loads settings from defaults, an optional config file,
// NEXZI_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/negotiation"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/transport"
	"github.com/1ureka/nexzi/internal/util"
)

// Role is the part the CLI plays. Empty means ask interactively.
type Role string

const (
	RoleAsk    Role = ""
	RoleSharer Role = "sharer"
	RoleViewer Role = "viewer"
)

// Config is the resolved configuration of both binaries.
type Config struct {
	Variant negotiation.CandidatePolicy
	Role    Role
	Remote  address.Address

	RelayURL      string
	RedisAddr     string
	RedisPassword string
	RedisTopic    string

	ICEServers []string
	TURNServer string
	TURNUser   string
	TURNPass   string

	Conflict      negotiation.ConflictPolicy
	GatherTimeout time.Duration
	CaptureFPS    int
	CaptureAudio  bool

	GeminiAPIKey  string
	Debug         bool
	StatsInterval time.Duration

	// relay only
	Listen         string
	AllowedOrigins []string
}

// flag name → config key
var flagKeys = map[string]string{
	"variant":         "variant",
	"role":            "role",
	"remote":          "remote",
	"relay":           "relay_url",
	"redis":           "redis_addr",
	"redis-password":  "redis_password",
	"redis-topic":     "redis_topic",
	"ice":             "ice_servers",
	"turn":            "turn_server",
	"turn-user":       "turn_user",
	"turn-pass":       "turn_pass",
	"conflict":        "conflict",
	"gather-timeout":  "gather_timeout",
	"fps":             "capture_fps",
	"audio":           "capture_audio",
	"gemini-key":      "gemini_api_key",
	"debug":           "debug",
	"stats-interval":  "stats_interval",
	"listen":          "listen",
	"allowed-origins": "allowed_origins",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("variant", "stream")
	v.SetDefault("role", "")
	v.SetDefault("remote", "")
	v.SetDefault("relay_url", "ws://127.0.0.1:8080/ws")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_topic", signaling.DefaultRedisTopic)
	v.SetDefault("ice_servers", []string{transport.DefaultSTUN})
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("conflict", "busy")
	v.SetDefault("gather_timeout", 10*time.Second)
	v.SetDefault("capture_fps", 15)
	v.SetDefault("capture_audio", false)
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("debug", false)
	v.SetDefault("stats_interval", time.Second)
	v.SetDefault("listen", ":8080")
	v.SetDefault("allowed_origins", []string{})
}

// AddFlags registers every setting on flags, plus --config for the file path.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML, TOML or JSON config file")
	flags.String("variant", "stream", "candidate exchange: stream (via relay) or manual (copy/paste codes)")
	flags.String("role", "", "sharer or viewer; empty asks interactively")
	flags.String("remote", "", "address to call as viewer")
	flags.String("relay", "ws://127.0.0.1:8080/ws", "signaling relay URL")
	flags.String("redis", "", "use this Redis server for signaling instead of the relay")
	flags.String("redis-password", "", "Redis password")
	flags.String("redis-topic", signaling.DefaultRedisTopic, "Redis pub/sub channel")
	flags.StringSlice("ice", []string{transport.DefaultSTUN}, "STUN server URLs")
	flags.String("turn", "", "TURN server URL")
	flags.String("turn-user", "", "TURN username")
	flags.String("turn-pass", "", "TURN password")
	flags.String("conflict", "busy", "second caller during a session: busy, ignore or replace")
	flags.Duration("gather-timeout", 10*time.Second, "max wait for ICE gathering in manual mode")
	flags.Int("fps", 15, "capture frame rate")
	flags.Bool("audio", false, "also share audio")
	flags.String("gemini-key", "", "Gemini API key for help tips")
	flags.Bool("debug", false, "enable debug logging")
	flags.Duration("stats-interval", time.Second, "stats refresh interval, 0 disables")
	flags.String("listen", ":8080", "relay listen address")
	flags.StringSlice("allowed-origins", nil, "browser origins admitted by the relay; empty allows all")
}

// Load resolves the configuration. path may be empty, in which case
// nexzi.{yaml,toml,json} is looked up in the working directory and the user
// config directory. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEXZI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini_api_key", "NEXZI_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nexzi")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "nexzi"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		util.LogDebug("no config file found (%s)", path)
	} else {
		util.LogDebug("config loaded from %s", v.ConfigFileUsed())
	}

	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	c := &Config{
		Role:           Role(strings.ToLower(v.GetString("role"))),
		RelayURL:       v.GetString("relay_url"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisTopic:     v.GetString("redis_topic"),
		ICEServers:     v.GetStringSlice("ice_servers"),
		TURNServer:     v.GetString("turn_server"),
		TURNUser:       v.GetString("turn_user"),
		TURNPass:       v.GetString("turn_pass"),
		GatherTimeout:  v.GetDuration("gather_timeout"),
		CaptureFPS:     v.GetInt("capture_fps"),
		CaptureAudio:   v.GetBool("capture_audio"),
		GeminiAPIKey:   v.GetString("gemini_api_key"),
		Debug:          v.GetBool("debug"),
		StatsInterval:  v.GetDuration("stats_interval"),
		Listen:         v.GetString("listen"),
		AllowedOrigins: v.GetStringSlice("allowed_origins"),
	}

	var errs []error

	variant, err := negotiation.ParseCandidatePolicy(strings.ToLower(v.GetString("variant")))
	if err != nil {
		errs = append(errs, err)
	}
	c.Variant = variant

	conflict, err := negotiation.ParseConflictPolicy(strings.ToLower(v.GetString("conflict")))
	if err != nil {
		errs = append(errs, err)
	}
	c.Conflict = conflict

	switch c.Role {
	case RoleAsk, RoleSharer, RoleViewer:
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be sharer or viewer", c.Role))
	}

	if raw := v.GetString("remote"); raw != "" {
		remote, err := address.Parse(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid remote %q: %w", raw, err))
		}
		c.Remote = remote
	}

	if c.GatherTimeout <= 0 {
		errs = append(errs, fmt.Errorf("gather_timeout must be positive, got %s", c.GatherTimeout))
	}
	if c.CaptureFPS < 1 || c.CaptureFPS > 60 {
		errs = append(errs, fmt.Errorf("capture_fps must be 1 ~ 60, got %d", c.CaptureFPS))
	}
	if c.TURNServer != "" && (c.TURNUser == "" || c.TURNPass == "") {
		errs = append(errs, errors.New("turn_server needs turn_user and turn_pass"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Transport returns the ICE configuration.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		ICEServers: transport.ICEServers(c.ICEServers, c.TURNServer, c.TURNUser, c.TURNPass),
	}
}

// Redis returns the Redis signaling options.
func (c *Config) Redis() signaling.RedisOptions {
	return signaling.RedisOptions{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		Topic:    c.RedisTopic,
	}
}
