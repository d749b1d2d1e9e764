// Package config loads the full driver/client configuration enumerated
// in spec.md §6, using a TOML-based Load function
// (github.com/pelletier/go-toml/v2) and layering
// github.com/joho/godotenv for .env overrides of secrets/endpoints
// ahead of parsing the TOML file, the way a twelve-factor deployment
// expects: `.env` wins for anything an operator needs to swap per
// environment without editing the checked-in TOML.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ChannelConfig names a transport URI plus the stream id traffic on it
// uses, one per spec.md §6 channel ("control_channel", ...).
type ChannelConfig struct {
	URI      string `toml:"uri"`
	StreamID int32  `toml:"stream_id"`
}

// StreamIDRange reserves [Base, Base+Count) for one named class of
// stream, per spec.md §6's stream_id_ranges[].
type StreamIDRange struct {
	Name  string `toml:"name"`
	Base  uint32 `toml:"base"`
	Count uint32 `toml:"count"`
}

// Profile is one entry of spec.md §6's profiles[]: a named ring/pool
// layout a dynamically-provisioned stream may request.
type Profile struct {
	Name        string `toml:"name"`
	SlotBytes   uint32 `toml:"slot_bytes"`
	StrideBytes uint32 `toml:"stride_bytes"`
	NSlots      uint32 `toml:"nslots"`
}

// SupervisorConfig is spec.md §6's "Supervisor:" bullet, controlling
// the optional per-consumer routing consolidation (see package
// supervisor).
type SupervisorConfig struct {
	PerConsumerEnabled          bool   `toml:"per_consumer_enabled"`
	PerConsumerDescriptorChannel string `toml:"per_consumer_descriptor_channel"`
	PerConsumerDescriptorBase   uint32 `toml:"per_consumer_descriptor_base"`
	PerConsumerDescriptorRange  uint32 `toml:"per_consumer_descriptor_range"`
	PerConsumerControlChannel   string `toml:"per_consumer_control_channel"`
	PerConsumerControlBase      uint32 `toml:"per_consumer_control_base"`
	PerConsumerControlRange     uint32 `toml:"per_consumer_control_range"`
	ForceNoShm                  bool   `toml:"force_no_shm"`
	ForceMode                   string `toml:"force_mode"`
	PayloadFallbackURI          string `toml:"payload_fallback_uri"`
	ConsumerCapacity            int    `toml:"consumer_capacity"`
	ConsumerStaleMs             int64  `toml:"consumer_stale_ms"`
}

// ExchangeConfig is the shape a feed.WSProducer binds to (see package
// feed): one upstream websocket source with a local-to-remote symbol
// map.
type ExchangeConfig struct {
	Enabled bool              `toml:"enabled"`
	Testnet bool              `toml:"testnet"`
	WSURL   string            `toml:"ws_url"`
	RESTURL string            `toml:"rest_url"`
	Symbols map[string]string `toml:"symbols"`
}

// Config is the full enumerated configuration from spec.md §6.
type Config struct {
	ControlChannel    ChannelConfig `toml:"control_channel"`
	AnnounceChannel   ChannelConfig `toml:"announce_channel"`
	DescriptorChannel ChannelConfig `toml:"descriptor_channel"`
	QosChannel        ChannelConfig `toml:"qos_channel"`
	MetadataChannel   ChannelConfig `toml:"metadata_channel"`

	DriverTimeoutNs           int64  `toml:"driver_timeout_ns"`
	KeepaliveIntervalNs       int64  `toml:"keepalive_interval_ns"`
	LeaseExpiryGraceIntervals uint32 `toml:"lease_expiry_grace_intervals"`

	IdleSleepDurationNs uint64 `toml:"idle_sleep_duration_ns"`

	ShmBaseDir       string `toml:"shm_base_dir"`
	ShmNamespace     string `toml:"shm_namespace"`
	PermissionsMode  uint32 `toml:"permissions_mode"`
	RequireHugepages bool   `toml:"require_hugepages"`
	PrefaultShm      bool   `toml:"prefault_shm"`
	MlockShm         bool   `toml:"mlock_shm"`

	StreamIDRanges      []StreamIDRange `toml:"stream_id_ranges"`
	Profiles            []Profile       `toml:"profiles"`
	DefaultProfile      string          `toml:"default_profile"`
	AllowDynamicStreams bool            `toml:"allow_dynamic_streams"`

	AnnouncePeriodMs         int64 `toml:"announce_period_ms"`
	LeaseKeepaliveIntervalMs int64 `toml:"lease_keepalive_interval_ms"`

	EpochGCEnabled    bool   `toml:"epoch_gc_enabled"`
	EpochGCKeep       int    `toml:"epoch_gc_keep"`
	EpochGCMinAgeNs   int64  `toml:"epoch_gc_min_age_ns"`
	EpochGCOnStartup  bool   `toml:"epoch_gc_on_startup"`
	EpochGCScheduleCron string `toml:"epoch_gc_schedule_cron"`

	NodeIDReuseCooldownMs int64 `toml:"node_id_reuse_cooldown_ms"`

	Supervisor SupervisorConfig `toml:"supervisor"`

	// Exchanges lists the upstream market-data sources, each consumed
	// by a feed.WSProducer.
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
}

// Defaults returns the baseline configuration applied before the TOML
// file is parsed, so a minimal config.toml only has to override what it
// cares about.
func Defaults() Config {
	return Config{
		ControlChannel:    ChannelConfig{URI: "loopback://control", StreamID: 1},
		AnnounceChannel:   ChannelConfig{URI: "loopback://announce", StreamID: 1},
		DescriptorChannel: ChannelConfig{URI: "loopback://descriptor", StreamID: 1},
		QosChannel:        ChannelConfig{URI: "loopback://qos", StreamID: 1},
		MetadataChannel:   ChannelConfig{URI: "loopback://metadata", StreamID: 1},

		DriverTimeoutNs:           5_000_000_000,
		KeepaliveIntervalNs:       1_000_000_000,
		LeaseExpiryGraceIntervals: 3,

		IdleSleepDurationNs: 1_000_000,

		ShmBaseDir:      "/dev/shm",
		ShmNamespace:    "default",
		PermissionsMode: 0o750,

		DefaultProfile:      "default",
		AllowDynamicStreams: true,

		AnnouncePeriodMs:         1000,
		LeaseKeepaliveIntervalMs: 1000,

		EpochGCEnabled:      true,
		EpochGCKeep:         2,
		EpochGCMinAgeNs:     60_000_000_000,
		EpochGCOnStartup:    true,
		EpochGCScheduleCron: "@every 5m",

		NodeIDReuseCooldownMs: 30_000,

		Supervisor: SupervisorConfig{
			ConsumerCapacity: 256,
			ConsumerStaleMs:  10_000,
		},
	}
}

// Load reads envPath (if non-empty and present) into the process
// environment via godotenv, then parses path as TOML over Defaults(),
// then applies ApplyEnvOverrides. envPath may be empty to skip the
// dotenv step.
func Load(path string, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	cfg := Defaults()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	ApplyEnvOverrides(&cfg)
	return &cfg, nil
}

// ApplyEnvOverrides lets an operator override a handful of
// deployment-sensitive fields (endpoints, base directories) from the
// environment without editing the checked-in TOML, a plain
// os.Getenv-with-fallback pattern.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TENSORPOOL_CONTROL_CHANNEL_URI"); v != "" {
		cfg.ControlChannel.URI = v
	}
	if v := os.Getenv("TENSORPOOL_SHM_BASE_DIR"); v != "" {
		cfg.ShmBaseDir = v
	}
	if v := os.Getenv("TENSORPOOL_SHM_NAMESPACE"); v != "" {
		cfg.ShmNamespace = v
	}
}
