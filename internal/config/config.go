package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wakelisten/internal/domain"
)

// Permission modes for microphone authorization.
const (
	PermissionProbe   = "probe"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Config stores runtime configuration. Values come from defaults, then the
// YAML file, then environment variables.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Audio    AudioConfig    `yaml:"audio"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Rules    RulesConfig    `yaml:"rules"`
	Log      LogConfig      `yaml:"log"`
	Network  NetworkConfig  `yaml:"network"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	NATS     NATSConfig     `yaml:"nats"`
}

type SessionConfig struct {
	WakeWord    string        `yaml:"wake_word"`
	Mode        string        `yaml:"mode"`
	Language    string        `yaml:"language"`
	ChunkSize   int           `yaml:"chunk_size"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Restart     RestartConfig `yaml:"restart"`
}

type RestartConfig struct {
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Strategy string        `yaml:"strategy"`
	// MaxRetries of zero leaves error restarts uncapped.
	MaxRetries uint64 `yaml:"max_retries"`
	OnError    bool   `yaml:"on_error"`
	OnEnd      bool   `yaml:"on_end"`
}

type AudioConfig struct {
	RecorderCommand string        `yaml:"command"`
	InputFormat     string        `yaml:"input_format"`
	InputDevice     string        `yaml:"input_device"`
	SampleRate      int           `yaml:"sample_rate"`
	Channels        int           `yaml:"channels"`
	StartupGrace    time.Duration `yaml:"startup_grace"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	Permission      string        `yaml:"permission"`
	PermissionWait  time.Duration `yaml:"permission_timeout"`
}

type DeepgramConfig struct {
	APIKey         string        `yaml:"api_key"`
	APIBaseURL     string        `yaml:"api_base"`
	Model          string        `yaml:"model"`
	Language       string        `yaml:"language"`
	SmartFormat    bool          `yaml:"smart_format"`
	Endpointing    int           `yaml:"endpointing_ms"`
	UtteranceEndMS int           `yaml:"utterance_end_ms"`
	VADEvents      bool          `yaml:"vad_events"`
	Keywords       []string      `yaml:"keywords"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type RulesConfig struct {
	Path           string   `yaml:"path"`
	Inline         []string `yaml:"inline"`
	WakeAliases    []string `yaml:"wake_aliases"`
	IterationLimit int      `yaml:"iteration_limit"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type NetworkConfig struct {
	// ProbeAddress is dialed before each activation. Empty skips the check.
	ProbeAddress string        `yaml:"probe_address"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type NATSConfig struct {
	URLs     []string `yaml:"urls"`
	Subject  string   `yaml:"subject"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	Token    string   `yaml:"token"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Session: SessionConfig{
			WakeWord:    "hello",
			Mode:        string(domain.ArmingContinuous),
			ChunkSize:   4096,
			StopTimeout: 4 * time.Second,
			Restart: RestartConfig{
				Delay:      800 * time.Millisecond,
				MaxDelay:   30 * time.Second,
				Strategy:   "exponential",
				MaxRetries: 10,
				OnError:    true,
				OnEnd:      true,
			},
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			SampleRate:      16000,
			Channels:        1,
			StartupGrace:    250 * time.Millisecond,
			StopTimeout:     1200 * time.Millisecond,
			Permission:      PermissionProbe,
			PermissionWait:  3 * time.Second,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:     "https://api.deepgram.com/v1",
			Model:          "nova-2",
			SmartFormat:    true,
			UtteranceEndMS: 1000,
			VADEvents:      true,
			KeepAlive:      8 * time.Second,
		},
		Rules: RulesConfig{
			Path:           defaultRulesPath(),
			IterationLimit: 30,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Network: NetworkConfig{
			ProbeAddress: "api.deepgram.com:443",
			ProbeTimeout: 2 * time.Second,
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8765",
		},
		NATS: NATSConfig{
			Subject: "wakelisten.commands",
		},
	}
}

// Load resolves configuration. An empty path falls back to WAKELISTEN_CONFIG
// and then to the per-user config file, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := true
	path = firstNonEmpty(path, os.Getenv("WAKELISTEN_CONFIG"))
	if path == "" {
		explicit = false
		path = defaultConfigPath()
	}

	if path != "" {
		contents, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(contents, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Session
	s.WakeWord = envOrDefault("WAKELISTEN_WAKE_WORD", s.WakeWord)
	s.Mode = envOrDefault("WAKELISTEN_MODE", s.Mode)
	s.Language = envOrDefault("WAKELISTEN_LANGUAGE", s.Language)
	s.ChunkSize = envOrDefaultInt("WAKELISTEN_AUDIO_CHUNK_SIZE", s.ChunkSize)
	s.Restart.Delay = envOrDefaultMillis("WAKELISTEN_RESTART_DELAY_MS", s.Restart.Delay)
	s.Restart.MaxDelay = envOrDefaultMillis("WAKELISTEN_RESTART_MAX_DELAY_MS", s.Restart.MaxDelay)
	s.Restart.Strategy = envOrDefault("WAKELISTEN_RESTART_STRATEGY", s.Restart.Strategy)
	if retries := envOrDefaultInt("WAKELISTEN_RESTART_MAX_RETRIES", -1); retries >= 0 {
		s.Restart.MaxRetries = uint64(retries)
	}

	a := &cfg.Audio
	a.RecorderCommand = envOrDefault("WAKELISTEN_FFMPEG_COMMAND", a.RecorderCommand)
	a.InputFormat = envOrDefault("WAKELISTEN_AUDIO_INPUT_FORMAT", a.InputFormat)
	a.InputDevice = envOrDefault("WAKELISTEN_AUDIO_INPUT_DEVICE", a.InputDevice)
	a.SampleRate = envOrDefaultInt("WAKELISTEN_SAMPLE_RATE", a.SampleRate)
	a.Channels = envOrDefaultInt("WAKELISTEN_CHANNELS", a.Channels)
	a.Permission = envOrDefault("WAKELISTEN_MIC_PERMISSION", a.Permission)

	d := &cfg.Deepgram
	d.APIKey = envOrDefault("DEEPGRAM_API_KEY", d.APIKey)
	d.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", d.APIBaseURL)
	d.Model = envOrDefault("DEEPGRAM_MODEL", d.Model)
	d.Language = envOrDefault("DEEPGRAM_LANGUAGE", d.Language)
	d.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", d.SmartFormat)
	d.Endpointing = envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", d.Endpointing)
	d.UtteranceEndMS = envOrDefaultInt("DEEPGRAM_UTTERANCE_END_MS", d.UtteranceEndMS)

	r := &cfg.Rules
	r.Path = envOrDefault("WAKELISTEN_RULES_FILE", r.Path)
	r.IterationLimit = envOrDefaultInt("WAKELISTEN_RULE_ITERATION_LIMIT", r.IterationLimit)

	cfg.Log.Level = envOrDefault("WAKELISTEN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("WAKELISTEN_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = envOrDefault("WAKELISTEN_LOG_FILE", cfg.Log.File)

	cfg.Network.ProbeAddress = envOrDefault("WAKELISTEN_PROBE_ADDRESS", cfg.Network.ProbeAddress)

	cfg.Bridge.Enabled = envOrDefaultBool("WAKELISTEN_BRIDGE_ENABLED", cfg.Bridge.Enabled)
	cfg.Bridge.Addr = envOrDefault("WAKELISTEN_BRIDGE_ADDR", cfg.Bridge.Addr)

	if urls := envList("WAKELISTEN_NATS_URL"); len(urls) > 0 {
		cfg.NATS.URLs = urls
	}
	cfg.NATS.Subject = envOrDefault("WAKELISTEN_NATS_SUBJECT", cfg.NATS.Subject)
	cfg.NATS.Token = envOrDefault("WAKELISTEN_NATS_TOKEN", cfg.NATS.Token)
}

func (c *Config) normalize() error {
	c.Session.WakeWord = strings.TrimSpace(c.Session.WakeWord)
	if c.Session.WakeWord == "" {
		return errors.New("session.wake_word must not be empty")
	}
	mode, ok := domain.ParseArmingMode(c.Session.Mode)
	if !ok {
		return fmt.Errorf("unknown arming mode %q", c.Session.Mode)
	}
	c.Session.Mode = string(mode)

	switch strings.ToLower(strings.TrimSpace(c.Session.Restart.Strategy)) {
	case "", "exponential":
		c.Session.Restart.Strategy = "exponential"
	case "constant":
		c.Session.Restart.Strategy = "constant"
	default:
		return fmt.Errorf("unknown restart strategy %q", c.Session.Restart.Strategy)
	}
	if c.Session.Restart.Delay <= 0 {
		c.Session.Restart.Delay = 800 * time.Millisecond
	}
	if c.Session.Restart.MaxDelay < c.Session.Restart.Delay {
		c.Session.Restart.MaxDelay = c.Session.Restart.Delay
	}
	if c.Session.ChunkSize < 256 {
		c.Session.ChunkSize = 4096
	}

	switch c.Audio.Permission = strings.ToLower(strings.TrimSpace(c.Audio.Permission)); c.Audio.Permission {
	case "":
		c.Audio.Permission = PermissionProbe
	case PermissionProbe, PermissionGranted, PermissionDenied:
	default:
		return fmt.Errorf("unknown microphone permission mode %q", c.Audio.Permission)
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = 30
	}
	c.Rules.Path = expandHome(c.Rules.Path)
	c.Log.File = expandHome(c.Log.File)
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wakelisten", "config.yaml")
}

func defaultRulesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wakelisten", "substitutions.rules")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
