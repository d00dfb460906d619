package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

// Config is the on-disk run configuration. The core consumes the
// already-resolved model.Config this produces, never the file itself.
type Config struct {
	Region         string `toml:"region"`
	KeepPhotos     *bool  `toml:"keep_photos"`
	NFC            *bool  `toml:"nfc"`
	Strict         bool   `toml:"strict"`
	DryRun         bool   `toml:"dry_run"`
	EncodingRepair string `toml:"encoding_repair"`
	ReportPath     string `toml:"report_path"`

	Concurrency ConcurrencyConfig `toml:"concurrency"`
}

type ConcurrencyConfig struct {
	Workers   int `toml:"workers"`
	ChunkSize int `toml:"chunk_size"`
}

// Load reads a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from VCARDKIT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VCARDKIT_REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("VCARDKIT_STRICT"); v != "" {
		c.Strict = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VCARDKIT_NFC"); v != "" {
		b := v == "1" || strings.EqualFold(v, "true")
		c.NFC = &b
	}
	if v := os.Getenv("VCARDKIT_ENCODING_REPAIR"); v != "" {
		c.EncodingRepair = v
	}
	if v := os.Getenv("VCARDKIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency.Workers = n
		}
	}
}

// Resolve validates the configuration and produces the immutable value
// the pipeline stages consume.
func (c *Config) Resolve() (model.Config, error) {
	out := model.DefaultConfig()

	switch region := strings.ToUpper(strings.TrimSpace(c.Region)); {
	case region == "" || region == "AUTO":
		// AUTO keeps the default; numbers without a country code then
		// parse against it and fall back to kept-as-is on failure
	case len(region) == 2:
		out.DefaultRegion = region
	default:
		return model.Config{}, fmt.Errorf("invalid region %q: want ISO 3166-1 alpha-2 or \"auto\"", c.Region)
	}

	switch mode := model.RepairMode(strings.ToLower(strings.TrimSpace(c.EncodingRepair))); mode {
	case "":
	case model.RepairOff, model.RepairSafe, model.RepairAggressive:
		out.Repair = mode
	default:
		return model.Config{}, fmt.Errorf("invalid encoding_repair %q: want off, safe-defaults or aggressive", c.EncodingRepair)
	}

	if c.KeepPhotos != nil {
		out.KeepPhotos = *c.KeepPhotos
	}
	if c.NFC != nil {
		out.NFC = *c.NFC
	}
	out.Strict = c.Strict
	out.DryRun = c.DryRun
	if c.Concurrency.Workers < 0 || c.Concurrency.ChunkSize < 0 {
		return model.Config{}, fmt.Errorf("concurrency values must be non-negative")
	}
	out.Workers = c.Concurrency.Workers
	out.ChunkSize = c.Concurrency.ChunkSize
	return out, nil
}
