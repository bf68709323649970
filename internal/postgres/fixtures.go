// Fixture loading: fixed setup statements, fixture file inclusion, and
// optional goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pressly/goose/v3"

	"github.com/mesh-intelligence/pgbox/pkg/types"
)

// migrationsTable keeps goose bookkeeping out of the way of schemas under test.
const migrationsTable = "pgbox_migrations"

// setupStatements returns the fixed statements applied to every instance,
// in order: the cryptographic extension, the database-level timezone, and
// the role-level search path default.
func setupStatements() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		fmt.Sprintf(`ALTER DATABASE %s SET timezone TO 'UTC'`, types.Database),
		fmt.Sprintf(`ALTER ROLE %s SET search_path TO %s, public`, types.SuperRole, types.Schema),
	}
}

// ApplyFixtures runs the fixed setup statements and, when fixtureFile is
// non-empty, includes the file — all in a single psql session that stops at
// the first error. Any failure is fatal to the run.
func (s *Server) ApplyFixtures(ctx context.Context, fixtureFile string) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return types.ErrNotStarted
	}

	args := []string{
		"-h", s.conn.SocketDir,
		"-U", s.conn.Role,
		"-d", s.conn.Database,
		"-q",
		"-v", "ON_ERROR_STOP=1",
	}
	for _, stmt := range setupStatements() {
		args = append(args, "-c", stmt)
	}
	if fixtureFile != "" {
		args = append(args, "-f", fixtureFile)
	}

	res, err := s.runner.Run(ctx, s.binPath("psql"), args...)
	if err != nil {
		return fmt.Errorf("apply fixtures: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("apply fixtures exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	s.log.Info("fixtures applied", "file", fixtureFile)
	return nil
}

// ApplyMigrations runs the goose migrations from dir against the instance.
// An empty dir skips the step.
func (s *Server) ApplyMigrations(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return types.ErrNotStarted
	}

	db, err := sql.Open("pgx", s.conn.URI())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetLogger(gooseLogger{log: s.log})
	goose.SetTableName(migrationsTable)
	goose.SetBaseFS(os.DirFS(dir))
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	s.log.Info("migrations applied", "dir", dir)
	return nil
}

// gooseLogger adapts the harness logger to the goose logging interface.
type gooseLogger struct {
	log interface {
		Fatalf(format string, args ...interface{})
		Infof(format string, args ...interface{})
	}
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Fatalf(strings.TrimSpace(format), v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Infof(strings.TrimSpace(format), v...)
}
