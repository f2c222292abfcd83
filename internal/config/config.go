// Package config loads ipfixflow's runtime configuration from environment
// variables (via caarlos0/env struct tags), with command-line flags able
// to override individual fields — the teacher's cmd/collector/main.go
// flag set generalized to the CLI surface §6 describes, plus an env-var
// layer for container/orchestrated deployments the teacher never needed.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Config is the CLI surface of §6: capture source, cache geometry,
// timeouts, exporter target, and enabled plugins.
type Config struct {
	Interface   string `env:"IPFIXFLOW_INTERFACE"`
	CaptureFile string `env:"IPFIXFLOW_CAPTURE_FILE"`
	BPFFilter   string `env:"IPFIXFLOW_BPF_FILTER"`

	CacheSizeExp int `env:"IPFIXFLOW_CACHE_SIZE_EXP" envDefault:"16"`
	LineSize     int `env:"IPFIXFLOW_LINE_SIZE" envDefault:"4"`

	ActiveTimeoutSec   int `env:"IPFIXFLOW_ACTIVE_TIMEOUT" envDefault:"1800"`
	InactiveTimeoutSec int `env:"IPFIXFLOW_INACTIVE_TIMEOUT" envDefault:"15"`

	ObservationDomainID uint32 `env:"IPFIXFLOW_ODID" envDefault:"0"`
	ExporterHost        string `env:"IPFIXFLOW_EXPORTER_HOST" envDefault:"127.0.0.1"`
	ExporterPort        int    `env:"IPFIXFLOW_EXPORTER_PORT" envDefault:"4739"`
	ExporterUDP         bool   `env:"IPFIXFLOW_EXPORTER_UDP" envDefault:"true"`

	Plugins string `env:"IPFIXFLOW_PLUGINS" envDefault:"basic,http,smtp,quic,rtsp,ssdp,tls"`

	UI       string `env:"IPFIXFLOW_UI" envDefault:"tui"` // "tui" or "cli"
	APIAddr  string `env:"IPFIXFLOW_API_ADDR" envDefault:":8080"`
	LogLevel string `env:"IPFIXFLOW_LOG_LEVEL" envDefault:"info"`
}

// Load parses environment variables into defaults, then applies
// command-line flags (which take precedence) over the result. It does
// not call flag.Parse(); callers own the flag.FlagSet's lifecycle so
// tests can construct a Config without touching the global flag set.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}

	fs.StringVar(&cfg.Interface, "interface", cfg.Interface, "capture interface")
	fs.StringVar(&cfg.CaptureFile, "capture-file", cfg.CaptureFile, "capture file (mutually exclusive with -interface)")
	fs.StringVar(&cfg.BPFFilter, "filter", cfg.BPFFilter, "BPF capture filter")
	fs.IntVar(&cfg.CacheSizeExp, "cache-size-exp", cfg.CacheSizeExp, "cache size exponent n, size=2^n, 1<=n<=31")
	fs.IntVar(&cfg.LineSize, "line-size", cfg.LineSize, "cache line size (power of two)")
	fs.IntVar(&cfg.ActiveTimeoutSec, "active-timeout", cfg.ActiveTimeoutSec, "active flow timeout, seconds")
	fs.IntVar(&cfg.InactiveTimeoutSec, "inactive-timeout", cfg.InactiveTimeoutSec, "inactive flow timeout, seconds")
	fs.Var(uint32Flag{&cfg.ObservationDomainID}, "odid", "IPFIX observation domain id")
	fs.StringVar(&cfg.ExporterHost, "exporter-host", cfg.ExporterHost, "exporter host ([v6] form supported)")
	fs.IntVar(&cfg.ExporterPort, "exporter-port", cfg.ExporterPort, "exporter port")
	fs.BoolVar(&cfg.ExporterUDP, "exporter-udp", cfg.ExporterUDP, "use UDP transport to the exporter")
	fs.StringVar(&cfg.Plugins, "plugins", cfg.Plugins, "comma-separated plugin list")
	fs.StringVar(&cfg.UI, "ui", cfg.UI, "\"tui\" or \"cli\"")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "introspection API listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate enforces §6's CLI invariants.
func (c Config) Validate() error {
	if c.Interface != "" && c.CaptureFile != "" {
		return fmt.Errorf("config: -interface and -capture-file are mutually exclusive")
	}
	if c.Interface == "" && c.CaptureFile == "" {
		return fmt.Errorf("config: one of -interface or -capture-file is required")
	}
	if c.CacheSizeExp < 1 || c.CacheSizeExp > 31 {
		return fmt.Errorf("config: cache-size-exp must be in [1,31], got %d", c.CacheSizeExp)
	}
	if c.LineSize <= 0 || c.LineSize&(c.LineSize-1) != 0 {
		return fmt.Errorf("config: line-size must be a power of two, got %d", c.LineSize)
	}
	return nil
}

// CacheSize returns 2^CacheSizeExp.
func (c Config) CacheSize() int { return 1 << uint(c.CacheSizeExp) }

type uint32Flag struct{ v *uint32 }

func (f uint32Flag) String() string {
	if f.v == nil {
		return "0"
	}
	return fmt.Sprintf("%d", *f.v)
}

func (f uint32Flag) Set(s string) error {
	var v uint32
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return err
	}
	*f.v = v
	return nil
}
