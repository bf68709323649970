// Package harness orchestrates one run: allocate the workspace, bring up
// the disposable instance, load fixtures, run the child command with the
// connection environment, and tear everything down exactly once no matter
// which exit path is taken.
package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/mesh-intelligence/pgbox/internal/logging"
	"github.com/mesh-intelligence/pgbox/internal/postgres"
	"github.com/mesh-intelligence/pgbox/internal/workspace"
	"github.com/mesh-intelligence/pgbox/pkg/types"
)

// Server is the slice of the instance lifecycle the harness drives.
// *postgres.Server implements it; tests substitute counting doubles.
type Server interface {
	InitCluster(ctx context.Context) error
	Start(ctx context.Context) error
	WaitReady(ctx context.Context, interval, timeout time.Duration) error
	ApplyFixtures(ctx context.Context, fixtureFile string) error
	ApplyMigrations(ctx context.Context, dir string) error
	Conn() types.ConnInfo
	Stop() error
}

// Option adjusts a Harness. Used by tests to substitute collaborators.
type Option func(*Harness)

// WithFs substitutes the filesystem the workspace lives on.
func WithFs(fs afero.Fs) Option {
	return func(h *Harness) { h.fs = fs }
}

// WithServerFactory substitutes the server constructor.
func WithServerFactory(f func(postgres.ServerConfig) Server) Option {
	return func(h *Harness) { h.newServer = f }
}

// WithChildRunner substitutes the child command executor.
func WithChildRunner(f func(ctx context.Context, env []string, name string, args []string) (int, error)) Option {
	return func(h *Harness) { h.runChild = f }
}

// WithExit substitutes the process-exit function used by the signal path.
func WithExit(f func(int)) Option {
	return func(h *Harness) { h.exit = f }
}

// WithLogWriter substitutes the base log destination (default stderr).
func WithLogWriter(w io.Writer) Option {
	return func(h *Harness) { h.logW = w }
}

// WithOutput substitutes the destination the preserved workspace path is
// printed to (default stdout).
func WithOutput(w io.Writer) Option {
	return func(h *Harness) { h.out = w }
}

// Harness runs one command against one disposable instance. A Harness is
// single-use: Run may be called once.
type Harness struct {
	cfg   types.Config
	runID string

	fs        afero.Fs
	logW      io.Writer
	out       io.Writer
	log       *logging.Logger
	newServer func(postgres.ServerConfig) Server
	runChild  func(ctx context.Context, env []string, name string, args []string) (int, error)
	exit      func(int)

	ws  *workspace.Workspace
	srv Server

	teardownOnce sync.Once
}

// New creates a Harness for the given configuration.
func New(cfg types.Config, opts ...Option) *Harness {
	h := &Harness{
		cfg:      cfg,
		runID:    uuid.NewString(),
		fs:       afero.NewOsFs(),
		logW:     os.Stderr,
		out:      os.Stdout,
		runChild: runChildCommand,
		exit:     os.Exit,
	}
	h.newServer = func(sc postgres.ServerConfig) Server { return postgres.NewServer(sc) }
	for _, opt := range opts {
		opt(h)
	}
	h.log = logging.New(h.logW).WithRun(h.runID)
	return h
}

// Run provisions the instance, applies fixtures, executes the command and
// returns its exit code. A missing command fails before any resource is
// created. Setup failures return an error but still pass through teardown.
func (h *Harness) Run(ctx context.Context, command string, args []string) (int, error) {
	if command == "" {
		return 0, types.ErrMissingCommand
	}
	if err := h.cfg.Validate(); err != nil {
		return 0, err
	}

	ws, err := workspace.New(h.fs, h.cfg.WorkDir, h.cfg.Preserve)
	if err != nil {
		return 0, err
	}
	h.ws = ws

	// Progress is teed into the workspace setup log so a preserved
	// workspace carries the full setup history.
	logW := h.logW
	if f, err := ws.OpenSetupLog(); err == nil {
		defer f.Close()
		logW = io.MultiWriter(h.logW, f)
	}
	h.log = logging.New(logW).WithRun(h.runID)
	h.log.Info("workspace created", "path", ws.Root)

	h.srv = h.newServer(postgres.ServerConfig{
		BinDir:    h.cfg.BinDir,
		DataDir:   ws.DataDir,
		SocketDir: ws.SocketDir,
		LogFile:   ws.ServerLog,
		Fs:        h.fs,
		Logger:    h.log,
	})

	// Interrupt and termination route through the same one-shot teardown
	// as the normal return path.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		h.handleSignal(sig)
	}()
	defer h.teardown()

	if err := h.setup(ctx); err != nil {
		return 0, err
	}

	env, err := h.childEnv()
	if err != nil {
		return 0, err
	}

	h.log.Info("running command", "command", command)
	code, err := h.runChild(ctx, env, command, args)
	if err != nil {
		// The command could not be started; the code already carries the
		// conventional not-found/not-executable value.
		h.log.Error("command failed to start", "command", command, "error", err)
	}
	return code, nil
}

// setup walks the linear provisioning sequence. Any failure is fatal; there
// are no retries beyond the readiness poll.
func (h *Harness) setup(ctx context.Context) error {
	if err := h.srv.InitCluster(ctx); err != nil {
		return fmt.Errorf("initialize cluster: %w", err)
	}
	if err := h.srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := h.srv.WaitReady(ctx, h.cfg.ReadyInterval, h.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("wait for server: %w", err)
	}
	if err := h.srv.ApplyFixtures(ctx, h.cfg.FixtureFile); err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}
	if err := h.srv.ApplyMigrations(ctx, h.cfg.MigrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// handleSignal funnels an interrupt or termination signal through the
// one-shot teardown and exits with the conventional 128+signal code.
func (h *Harness) handleSignal(sig os.Signal) {
	h.log.Warn("signal received", "signal", sig.String())
	h.teardown()
	h.exit(128 + signalNumber(sig))
}

// teardown stops the server and removes (or preserves) the workspace. The
// once guard keeps overlapping exit paths — normal return, setup error,
// signal delivery — from running the sequence twice.
func (h *Harness) teardown() {
	h.teardownOnce.Do(func() {
		if h.srv != nil {
			if err := h.srv.Stop(); err != nil {
				h.log.Error("stop server", "error", err)
			}
		}
		if h.ws == nil {
			return
		}
		if h.ws.Preserve() {
			h.log.Info("workspace preserved", "path", h.ws.Root)
			fmt.Fprintln(h.out, h.ws.Root)
			return
		}
		if err := h.ws.Remove(); err != nil {
			h.log.Error("remove workspace", "error", err)
		}
	})
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
