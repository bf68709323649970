// Config loading for the pgbox CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/pgbox/internal/paths"
	"github.com/mesh-intelligence/pgbox/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	// Config keys. Environment variables with the PGBOX_ prefix override
	// file values (e.g. PGBOX_PRESERVE=1).
	cfgKeyPreserve      = "preserve"
	cfgKeyBinDir        = "bin_dir"
	cfgKeyWorkDir       = "work_dir"
	cfgKeyFixtureFile   = "fixture_file"
	cfgKeyMigrationsDir = "migrations_dir"
	cfgKeyEnvFile       = "env_file"
	cfgKeyReadyInterval = "ready_interval"
	cfgKeyReadyTimeout  = "ready_timeout"

	envPrefix = "PGBOX"
)

// defaultConfigYAML is the content written to config.yaml on first run.
const defaultConfigYAML = `# pgbox configuration

# Directory holding the PostgreSQL executables (empty = PATH lookup)
# bin_dir:

# Parent directory for workspaces (empty = system temp)
# work_dir:

# SQL file included by the fixture step
# fixture_file:

# Goose migrations directory applied after fixtures
# migrations_dir:

# Keep workspaces after each run for inspection
# preserve: false

# Readiness poll tuning; ready_timeout 0 polls forever
# ready_interval: 100ms
# ready_timeout: 0
`

// loadConfig reads config.yaml from the resolved config directory using Viper.
// It creates the config directory and a default config.yaml on first run.
// A missing config.yaml is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}

	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyPreserve, false)
	v.SetDefault(cfgKeyReadyInterval, types.DefaultReadyInterval)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config.yaml is not an error.
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}

// ensureConfigDir creates the config directory if it does not exist.
func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		// File already exists.
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// buildConfig resolves the effective harness configuration following the
// precedence chain: flags > PGBOX_* environment > config.yaml > defaults.
func buildConfig(cmd *cobra.Command) (types.Config, error) {
	configDir, err := paths.ResolveConfigDir(flagConfigDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve config dir: %w", err)
	}

	v, err := loadConfig(configDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("load config: %w", err)
	}

	workDir, err := paths.ResolveWorkDir(flagWorkDir, v.GetString(cfgKeyWorkDir))
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve work dir: %w", err)
	}

	cfg := types.Config{
		BinDir:        v.GetString(cfgKeyBinDir),
		WorkDir:       workDir,
		Preserve:      v.GetBool(cfgKeyPreserve),
		FixtureFile:   v.GetString(cfgKeyFixtureFile),
		MigrationsDir: v.GetString(cfgKeyMigrationsDir),
		EnvFile:       v.GetString(cfgKeyEnvFile),
		ReadyInterval: v.GetDuration(cfgKeyReadyInterval),
		ReadyTimeout:  v.GetDuration(cfgKeyReadyTimeout),
	}

	// Flags win when explicitly set.
	flags := cmd.Flags()
	if flags.Changed("preserve") {
		cfg.Preserve = flagPreserve
	}
	if flags.Changed("fixtures") {
		cfg.FixtureFile = flagFixtures
	}
	if flags.Changed("migrations") {
		cfg.MigrationsDir = flagMigrations
	}
	if flags.Changed("env-file") {
		cfg.EnvFile = flagEnvFile
	}
	if flags.Changed("bin-dir") {
		cfg.BinDir = flagBinDir
	}
	if flags.Changed("ready-interval") {
		cfg.ReadyInterval = flagReadyInterval
	}
	if flags.Changed("ready-timeout") {
		cfg.ReadyTimeout = flagReadyTimeout
	}

	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}
