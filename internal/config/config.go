// Package config loads the environment/parameter set spec.md §6 names
// as an enumerated get_param surface: PTL_WC_COUNT, PTL_SRQ_REPOST_SIZE,
// PTL_RDMA_TIMEOUT, PTL_MAX_INLINE, PTL_LOG_LEVEL, plus the job-
// descriptor fields cmd/ptld needs to stand up one NI (rank, transport
// kind, CPU affinity). Grounded on the teacher's pkg/config: one
// mapstructure-tagged struct, a viper.Viper configured for a
// PTL_-prefixed environment override and an optional config file, and a
// Load that applies defaults before validating.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// TransportKind selects which transport.Transport implementation cmd/
// ptld wires into NewNI.
type TransportKind string

const (
	TransportRDMAVerbs TransportKind = "rdma"
	TransportShmem     TransportKind = "shmem"
)

// Config is the job descriptor one ptld process loads to stand up a
// single NI (spec.md §6's enumerated parameter set plus the process-
// level wiring the public API's launcher needs).
type Config struct {
	// Rank is this process's position in the job (req_hdr.src_pid /
	// connmgr.PeerID.Rank).
	Rank int `mapstructure:"rank"`

	// Transport selects the backend NewNI's Config.Transport is built
	// from.
	Transport TransportKind `mapstructure:"transport"`

	// CPUAffinity lists OS thread indices the progress thread may be
	// pinned to, round-robin per NI index (internal/dispatch.Config.
	// CPUAffinity).
	CPUAffinity []int `mapstructure:"cpu_affinity"`

	// WCCount is PTL_WC_COUNT: how many work completions one progress-
	// thread poll iteration drains.
	WCCount int `mapstructure:"wc_count"`

	// SRQRepostSize is PTL_SRQ_REPOST_SIZE: how many recv buffers one
	// SRQ repost batches.
	SRQRepostSize int `mapstructure:"srq_repost_size"`

	// RDMATimeoutMs is PTL_RDMA_TIMEOUT in milliseconds. It is loaded
	// and stored only; the engine applies no Rdma timeout.
	RDMATimeoutMs int `mapstructure:"rdma_timeout_ms"`

	// MaxInline is PTL_MAX_INLINE: the largest payload a Put/Atomic may
	// carry inline rather than via an RDMA/indirect descriptor.
	MaxInline int `mapstructure:"max_inline"`

	// LogLevel is PTL_LOG_LEVEL, passed to internal/logging.NewLogger.
	LogLevel string `mapstructure:"log_level"`
}

// Default returns the parameter set constants.go's package-level
// defaults describe, with Rank 0, the shmem transport and no CPU
// affinity — Load always
// starts from this before applying file/env overrides.
func Default() Config {
	return Config{
		Rank:          0,
		Transport:     TransportShmem,
		WCCount:       16,
		SRQRepostSize: 64,
		RDMATimeoutMs: 5000,
		MaxInline:     256,
		LogLevel:      "info",
	}
}

// Load reads a job descriptor from configPath (if non-empty) and
// PTL_-prefixed environment variables, falling back to Default for
// anything neither sets. Precedence: environment > file > defaults,
// mirroring the teacher's Load.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	cfg := Default()
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("rank", d.Rank)
	v.SetDefault("transport", string(d.Transport))
	v.SetDefault("wc_count", d.WCCount)
	v.SetDefault("srq_repost_size", d.SRQRepostSize)
	v.SetDefault("rdma_timeout_ms", d.RDMATimeoutMs)
	v.SetDefault("max_inline", d.MaxInline)
	v.SetDefault("log_level", d.LogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// Validate rejects job descriptors that would fail NewNI's own
// argument checks, catching the mistake at config-load time instead of
// at NI construction.
func Validate(cfg *Config) error {
	if cfg.Transport != TransportRDMAVerbs && cfg.Transport != TransportShmem {
		return fmt.Errorf("config: transport %q must be %q or %q", cfg.Transport, TransportRDMAVerbs, TransportShmem)
	}
	if cfg.WCCount <= 0 {
		return fmt.Errorf("config: wc_count must be positive, got %d", cfg.WCCount)
	}
	if cfg.SRQRepostSize <= 0 {
		return fmt.Errorf("config: srq_repost_size must be positive, got %d", cfg.SRQRepostSize)
	}
	if cfg.MaxInline < 0 {
		return fmt.Errorf("config: max_inline must be non-negative, got %d", cfg.MaxInline)
	}
	return nil
}
