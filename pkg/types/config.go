// Harness configuration and validation.
package types

import (
	"errors"
	"time"
)

// DefaultReadyInterval is the pause between readiness probes.
const DefaultReadyInterval = 100 * time.Millisecond

// Config holds the knobs for one harness run. The zero value plus
// DefaultReadyInterval is a valid configuration: system temp workspace,
// executables found on PATH, no fixture file, poll forever.
type Config struct {
	// BinDir is the directory holding the PostgreSQL executables
	// (initdb, pg_ctl, pg_isready, psql). Empty means PATH lookup.
	BinDir string `json:"bin_dir" yaml:"bin_dir"`

	// WorkDir is the parent directory for workspaces. Empty means the
	// system temp directory.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Preserve skips workspace deletion at teardown and prints the
	// workspace path instead, for post-mortem inspection.
	Preserve bool `json:"preserve" yaml:"preserve"`

	// FixtureFile is a SQL file executed by the fixture step after the
	// fixed setup statements. Empty means no file is included.
	FixtureFile string `json:"fixture_file" yaml:"fixture_file"`

	// MigrationsDir is a goose migrations directory applied after the
	// fixture step. Empty means no migrations run.
	MigrationsDir string `json:"migrations_dir" yaml:"migrations_dir"`

	// EnvFile is a dotenv file whose entries are merged into the child
	// command's environment. Empty means no extra entries.
	EnvFile string `json:"env_file" yaml:"env_file"`

	// ReadyInterval is the pause between readiness probes.
	ReadyInterval time.Duration `json:"ready_interval" yaml:"ready_interval"`

	// ReadyTimeout bounds the readiness poll. Zero means poll forever,
	// matching the behavior of the original tooling this replaces.
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
}

// Config validation errors.
var (
	ErrReadyIntervalInvalid = errors.New("ready interval must be positive")
	ErrReadyTimeoutInvalid  = errors.New("ready timeout must not be negative")
)

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.ReadyInterval <= 0 {
		return ErrReadyIntervalInvalid
	}
	if c.ReadyTimeout < 0 {
		return ErrReadyTimeoutInvalid
	}
	return nil
}
