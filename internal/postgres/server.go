// Package postgres manages the disposable server instance: cluster
// initialization, startup, readiness polling, fixture loading and shutdown.
// All interaction with the instance goes through the external binaries
// (initdb, pg_ctl, pg_isready, psql) or a client connection; the package
// never links against the server itself.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/pgbox/internal/logging"
	"github.com/mesh-intelligence/pgbox/pkg/types"
)

// serverSettings is appended to postgresql.conf after initdb. The instance
// is reachable only through the unix socket directory, runs with a fixed
// timezone regardless of the host, and skips durability sync because it is
// disposable and short-lived.
const serverSettings = `
# pgbox: host-independent settings for a disposable instance
listen_addresses = ''
unix_socket_directories = '%s'
timezone = 'UTC'
fsync = off
`

// ServerConfig holds the paths and collaborators for one Server.
type ServerConfig struct {
	// BinDir is the directory holding the PostgreSQL executables.
	// Empty means PATH lookup.
	BinDir string

	// DataDir is the cluster storage area inside the workspace.
	DataDir string

	// SocketDir is the private unix-socket directory inside the workspace.
	SocketDir string

	// LogFile receives the server's own output.
	LogFile string

	// Runner executes the external binaries. Defaults to ExecRunner.
	Runner Runner

	// Fs is the filesystem the configuration append goes through.
	// Defaults to the OS filesystem.
	Fs afero.Fs

	// Logger receives progress logs. Defaults to the stderr logger.
	Logger *logging.Logger
}

// Server is one disposable instance. Start and Stop are guarded so that
// the teardown path can call Stop unconditionally and exactly once does
// any work.
type Server struct {
	mu      sync.Mutex
	started bool

	binDir  string
	conn    types.ConnInfo
	logFile string
	runner  Runner
	fs      afero.Fs
	log     *logging.Logger
}

// NewServer creates a Server for the given workspace paths. The connection
// identity is the package-wide fixed default.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Server{
		binDir: cfg.BinDir,
		conn: types.ConnInfo{
			DataDir:   cfg.DataDir,
			SocketDir: cfg.SocketDir,
			Role:      types.SuperRole,
			Database:  types.Database,
		},
		logFile: cfg.LogFile,
		runner:  cfg.Runner,
		fs:      cfg.Fs,
		log:     cfg.Logger,
	}
}

// Conn returns the connection parameters of the instance.
func (s *Server) Conn() types.ConnInfo {
	return s.conn
}

// binPath returns the path of one PostgreSQL executable, falling back to
// PATH lookup when no bin dir is configured.
func (s *Server) binPath(name string) string {
	if s.binDir == "" {
		return name
	}
	return filepath.Join(s.binDir, name)
}

// InitCluster creates the storage area: trust authentication for the fixed
// superuser role, UTF-8 encoding, no host locale, no durability sync.
// It then pins the runtime settings in postgresql.conf.
func (s *Server) InitCluster(ctx context.Context) error {
	s.log.Debug("initializing cluster", "data", s.conn.DataDir)

	res, err := s.runner.Run(ctx, s.binPath("initdb"),
		"-D", s.conn.DataDir,
		"-U", s.conn.Role,
		"-A", "trust",
		"-E", "UTF8",
		"--no-locale",
		"--no-sync",
	)
	if err != nil {
		return fmt.Errorf("initdb: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("initdb exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if err := s.appendServerConfig(); err != nil {
		return fmt.Errorf("configure cluster: %w", err)
	}

	s.log.Info("cluster initialized", "data", s.conn.DataDir)
	return nil
}

// appendServerConfig appends the fixed runtime settings to postgresql.conf.
func (s *Server) appendServerConfig() error {
	conf := filepath.Join(s.conn.DataDir, "postgresql.conf")
	f, err := s.fs.OpenFile(conf, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, serverSettings, s.conn.SocketDir)
	return err
}

// Start launches the server bound only to the socket directory, with its
// output redirected to the workspace log file. It does not wait for the
// server to accept connections; call WaitReady for that.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return types.ErrAlreadyStarted
	}

	res, err := s.runner.Run(ctx, s.binPath("pg_ctl"),
		"-D", s.conn.DataDir,
		"-l", s.logFile,
		"-W",
		"start",
	)
	if err != nil {
		return fmt.Errorf("pg_ctl start: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pg_ctl start exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	s.started = true
	s.log.Info("server starting", "socket", s.conn.SocketDir, "log", s.logFile)
	return nil
}

// WaitReady polls the server's readiness signal at the given interval until
// it answers. A zero timeout polls forever; older server versions have no
// synchronous startup confirmation, so polling is the portable way in.
func (s *Server) WaitReady(ctx context.Context, interval, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if s.probe(ctx) {
			s.log.Info("server ready", "attempts", attempt)
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return types.ErrReadyTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probe runs one readiness check against the socket directory.
func (s *Server) probe(ctx context.Context) bool {
	res, err := s.runner.Run(ctx, s.binPath("pg_isready"),
		"-h", s.conn.SocketDir,
		"-U", s.conn.Role,
		"-d", s.conn.Database,
		"-q",
	)
	return err == nil && res.ExitCode == 0
}

// Stop requests immediate shutdown. Stopping a server that never started is
// a no-op so the teardown path can run unconditionally; a second Stop after
// a successful one is a no-op too.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	res, err := s.runner.Run(context.Background(), s.binPath("pg_ctl"),
		"-D", s.conn.DataDir,
		"-m", "immediate",
		"stop",
	)
	if err != nil {
		return fmt.Errorf("pg_ctl stop: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pg_ctl stop exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	s.started = false
	s.log.Info("server stopped")
	return nil
}
