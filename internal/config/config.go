package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/accesstechnology-mike/drumclick/internal/metronome"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/sirupsen/logrus"
)

const prefix = "DRUMCLICK_"

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port       int
	AssetDir   string
	PresetFile string
	Output     string // "device" or "headless"

	// Rhythm at startup
	Tempo     int
	Signature string
	Voice     bool // spoken counts

	// Scheduler timing
	Lookahead time.Duration
	Tick      time.Duration
	LeadIn    time.Duration

	// Band sync
	SessionID     string // empty mints one per host run
	SyncLeadIn    time.Duration
	PingInterval  time.Duration
	SkewWindow    int
	SkewAlpha     float64
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64
	STUNURLs      []string

	SessionRetries int // unknown-session answers a member tolerates

	// Outputs
	OSCTarget      string // empty disables OSC
	MonitorBitrate int    // bits per second

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:       envInt("PORT", 8080),
		AssetDir:   envStr("ASSET_DIR", "./audio"),
		PresetFile: envStr("PRESET_FILE", "presets.json"),
		Output:     envStr("OUTPUT", "device"),

		Tempo:     envInt("TEMPO", 120),
		Signature: envStr("SIGNATURE", "4/4"),
		Voice:     envBool("VOICE", false),

		Lookahead: time.Duration(envInt("LOOKAHEAD_MS", 100)) * time.Millisecond,
		Tick:      time.Duration(envInt("TICK_MS", 16)) * time.Millisecond,
		LeadIn:    time.Duration(envInt("LEAD_IN_MS", 50)) * time.Millisecond,

		SessionID:     envStr("SESSION_ID", ""),
		SyncLeadIn:    time.Duration(envInt("SYNC_LEAD_IN_MS", 500)) * time.Millisecond,
		PingInterval:  envDuration("PING_INTERVAL", time.Second),
		SkewWindow:    envInt("SKEW_WINDOW", 8),
		SkewAlpha:     envFloat("SKEW_ALPHA", 0.2),
		BackoffBase:   envDuration("BACKOFF_BASE", 2*time.Second),
		BackoffMax:    envDuration("BACKOFF_MAX", 30*time.Second),
		BackoffJitter: envFloat("BACKOFF_JITTER", 0.3),
		STUNURLs:      envList("STUN_URLS", []string{"stun:stun.l.google.com:19302"}),

		SessionRetries: envInt("SESSION_RETRIES", 3),

		OSCTarget:      envStr("OSC_TARGET", ""),
		MonitorBitrate: envInt("MONITOR_BITRATE", 128000),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// Headless reports whether audio is rendered without a sound device.
func (c Config) Headless() bool {
	return strings.EqualFold(c.Output, "headless")
}

// Rhythm is the starting rhythm. An unparsable signature falls back to 4/4.
func (c Config) Rhythm() rhythm.Config {
	cfg := rhythm.DefaultConfig()
	cfg.Tempo = c.Tempo
	cfg.UseVoice = c.Voice
	if sig, err := rhythm.ParseTimeSignature(c.Signature); err == nil {
		cfg.Signature = sig
	} else {
		logrus.WithError(err).Warnf("Ignoring %sSIGNATURE", prefix)
	}
	return cfg.Normalize()
}

func (c Config) Scheduler() metronome.Options {
	return metronome.Options{
		Lookahead:    c.Lookahead,
		TickInterval: c.Tick,
		LeadIn:       c.LeadIn,
	}
}

func (c Config) Sync() bandsync.Config {
	return bandsync.Config{
		SessionID:     c.SessionID,
		PingInterval:  c.PingInterval,
		SkewWindow:    c.SkewWindow,
		SkewAlpha:     c.SkewAlpha,
		StartLeadIn:   c.SyncLeadIn,
		BackoffBase:   c.BackoffBase,
		BackoffMax:    c.BackoffMax,
		BackoffJitter: c.BackoffJitter,

		NotFoundRetries: c.SessionRetries,
	}
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func envStr(key, fallback string) string {
	if v := os.Getenv(prefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(prefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(prefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("1.5s") or bare seconds ("2").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(prefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping empty entries. "none"
// yields an empty list.
func envList(key string, fallback []string) []string {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	if strings.EqualFold(v, "none") {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
