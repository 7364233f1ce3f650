package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"statement-ingestion-service/internal/ingest"
	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/internal/reporter"
	"statement-ingestion-service/internal/store"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// EnvPrefix is the prefix of environment variables read by the CLI
const EnvPrefix = "INGESTER"

// Config is the ingester configuration loaded from file, env and flags
type Config struct {
	Log             logger.Config   `mapstructure:"log"`
	Store           store.Config    `mapstructure:"store"`
	Server          ServerConfig    `mapstructure:"server"`
	DuplicatePolicy string          `mapstructure:"duplicate_policy"`
	Workers         int             `mapstructure:"workers"`
	ProgressEvery   int             `mapstructure:"progress_every"`
	Banks           []BankConfig    `mapstructure:"banks"`
	Accounts        []AccountConfig `mapstructure:"accounts"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// BankConfig is one bank's default mapping. Preset names a built-in mapping;
// Mapping entries are applied on top of it.
type BankConfig struct {
	Name           string                 `mapstructure:"name"`
	Preset         string                 `mapstructure:"preset"`
	MappingVersion interface{}            `mapstructure:"mapping_version"`
	Mapping        map[string]interface{} `mapstructure:"mapping"`
}

// AccountConfig is one user's account at a configured bank
type AccountConfig struct {
	ID              string                 `mapstructure:"id"`
	UserID          string                 `mapstructure:"user_id"`
	Name            string                 `mapstructure:"name"`
	Bank            string                 `mapstructure:"bank"`
	MappingOverride map[string]interface{} `mapstructure:"mapping_override"`
}

// SetDefaults registers the defaults of every setting so env variables
// resolve for all of them
func SetDefaults(v *viper.Viper) {
	def := logger.DefaultConfig()
	v.SetDefault("log.level", string(def.Level))
	v.SetDefault("log.format", string(def.Format))
	v.SetDefault("log.output", string(def.Output))
	v.SetDefault("log.file", "")
	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", store.DefaultMongoDatabase)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("duplicate_policy", string(ingest.DuplicateReject))
	v.SetDefault("workers", 4)
	v.SetDefault("progress_every", 1000)
}

// NewViper creates a viper instance wired to the INGESTER_ environment
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that can be checked without opening anything
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if _, err := ingest.ParseDuplicatePolicy(c.DuplicatePolicy); err != nil {
		return err
	}
	if c.Workers < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", c.Workers,
			fmt.Errorf("workers must be at least 1"))
	}
	if c.ProgressEvery < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "progress_every", c.ProgressEvery,
			fmt.Errorf("progress_every must not be negative"))
	}
	return nil
}

// Policy returns the configured duplicate policy
func (c *Config) Policy() ingest.DuplicatePolicy {
	policy, err := ingest.ParseDuplicatePolicy(c.DuplicatePolicy)
	if err != nil {
		return ingest.DuplicateReject
	}
	return policy
}

// Registry builds the bank and account registry. Banks without any
// configured account are still registered.
func (c *Config) Registry() (*ingest.Registry, error) {
	banks := make([]ingest.Bank, 0, len(c.Banks))
	for _, bc := range c.Banks {
		bank, err := bc.build()
		if err != nil {
			return nil, err
		}
		banks = append(banks, bank)
	}

	accounts := make([]ingest.Account, 0, len(c.Accounts))
	for _, ac := range c.Accounts {
		override, err := mapping.FromMap(ac.MappingOverride)
		if err != nil {
			return nil, wrapMapping(err, "accounts."+ac.ID+".mapping_override")
		}
		accounts = append(accounts, ingest.Account{
			ID:       ac.ID,
			UserID:   ac.UserID,
			Name:     ac.Name,
			Bank:     ac.Bank,
			Override: override,
		})
	}

	return ingest.NewRegistry(banks, accounts)
}

func (bc BankConfig) build() (ingest.Bank, error) {
	var base mapping.ColumnMapping
	if bc.Preset != "" {
		preset, ok := mapping.LookupPreset(bc.Preset)
		if !ok {
			return ingest.Bank{}, errors.ConfigurationError(errors.CodeInvalidConfig, "banks."+bc.Name+".preset", bc.Preset,
				fmt.Errorf("known presets: %s", strings.Join(mapping.PresetNames(), ", ")))
		}
		base = preset.Mapping
	}

	doc, err := mapping.FromMap(bc.Mapping)
	if err != nil {
		return ingest.Bank{}, wrapMapping(err, "banks."+bc.Name+".mapping")
	}

	version := 0
	if bc.MappingVersion != nil {
		version, err = mapping.IntValue(bc.MappingVersion)
		if err != nil {
			return ingest.Bank{}, errors.ConfigurationError(errors.CodeInvalidConfig, "banks."+bc.Name+".mapping_version",
				bc.MappingVersion, err)
		}
	}

	return ingest.Bank{
		Name:           bc.Name,
		MappingVersion: version,
		Mapping:        mapping.Resolve(base, doc),
	}, nil
}

func wrapMapping(err error, setting string) error {
	if ie, ok := errors.AsIngestError(err); ok {
		return ie.WithContext("setting", setting)
	}
	return errors.ConfigurationError(errors.CodeInvalidMapping, setting, nil, err)
}

// ReportConfig creates a report configuration for the specified output format
func ReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
