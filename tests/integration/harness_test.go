package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	root, err := FindProjectRoot()
	if err != nil {
		SetBuildErr(fmt.Errorf("locate project root: %w", err))
		os.Exit(m.Run())
	}

	binDir, err := os.MkdirTemp("", "pgbox-itest-")
	if err != nil {
		SetBuildErr(fmt.Errorf("create temp dir: %w", err))
		os.Exit(m.Run())
	}
	defer os.RemoveAll(binDir)

	bin := filepath.Join(binDir, "pgbox")
	build := exec.Command("go", "build", "-o", bin, "./cmd/pgbox")
	build.Dir = root
	if out, err := build.CombinedOutput(); err != nil {
		SetBuildErr(fmt.Errorf("build pgbox: %v\n%s", err, out))
		os.Exit(m.Run())
	}
	SetPgboxBin(bin)

	os.Exit(m.Run())
}

func TestMissingCommandIsUsageError(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox()

	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, env.StubLines(), "no server work before argument validation")
	assert.Empty(t, env.Workspaces(), "no workspace before argument validation")
}

func TestChildExitCodePropagates(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--", "sh", "-c", "exit 7")

	assert.Equal(t, 7, res.ExitCode)
}

func TestLifecycleOrder(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--", "true")
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	lines := env.StubLines()
	require.NotEmpty(t, lines)

	var order []string
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "initdb"):
			order = append(order, "initdb")
		case strings.Contains(line, "pg_ctl") && strings.Contains(line, "start"):
			order = append(order, "start")
		case strings.HasPrefix(line, "pg_isready"):
			order = append(order, "ready")
		case strings.HasPrefix(line, "psql"):
			order = append(order, "psql")
		case strings.Contains(line, "pg_ctl") && strings.Contains(line, "stop"):
			order = append(order, "stop")
		}
	}
	assert.Equal(t, []string{"initdb", "start", "ready", "psql", "stop"}, order)
}

func TestServerStoppedExactlyOnce(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--", "true")
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	assert.Equal(t, 1, env.CountStubLines("stop"))
}

func TestWorkspaceRemovedAfterRun(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--", "sh", "-c", "exit 3")

	assert.Equal(t, 3, res.ExitCode)
	assert.Empty(t, env.Workspaces(), "workspace removed even when the command fails")
}

func TestPreserveKeepsWorkspace(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--preserve", "--", "true")
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	dirs := env.Workspaces()
	require.Len(t, dirs, 1)
	assert.Contains(t, res.Stdout, dirs[0], "preserved workspace path printed")

	entries, err := os.ReadDir(dirs[0])
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "preserved workspace keeps its contents")
}

func TestPreserveViaEnvironment(t *testing.T) {
	env := NewTestEnv(t)
	env.Extra = append(env.Extra, "PGBOX_PRESERVE=1")

	res := env.RunPgbox("--", "true")
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	assert.Len(t, env.Workspaces(), 1)
}

func TestFixtureFailureSkipsCommand(t *testing.T) {
	env := NewTestEnv(t)
	env.PsqlExit = 3
	marker := filepath.Join(env.Root, "ran.marker")

	res := env.RunPgbox("--", "sh", "-c", "touch "+marker)

	assert.Equal(t, 2, res.ExitCode)
	assert.NoFileExists(t, marker, "command must not run after a fixture failure")
	assert.Equal(t, 1, env.CountStubLines("stop"), "server still stopped on failure")
	assert.Empty(t, env.Workspaces())
}

func TestReadinessPollRetries(t *testing.T) {
	env := NewTestEnv(t)
	env.ReadyAfter = 3

	res := env.RunPgbox("--ready-interval", "20ms", "--", "true")
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	assert.Equal(t, 3, env.CountStubLines("pg_isready"))
}

func TestReadinessTimeout(t *testing.T) {
	env := NewTestEnv(t)
	env.ReadyAfter = 10000

	res := env.RunPgbox("--ready-interval", "10ms", "--ready-timeout", "200ms", "--", "true")

	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, 1, env.CountStubLines("stop"), "server stopped after the poll gives up")
	assert.Empty(t, env.Workspaces())
}

func TestConnectionEnvironmentExported(t *testing.T) {
	env := NewTestEnv(t)
	out := filepath.Join(env.Root, "child.env")

	res := env.RunPgbox("--", "sh", "-c", "env > "+out)
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	childEnv := string(data)

	assert.Contains(t, childEnv, "PGUSER=pgbox\n")
	assert.Contains(t, childEnv, "PGDATABASE=postgres\n")
	assert.Contains(t, childEnv, "PGBOX_SCHEMA=test\n")
	assert.Contains(t, childEnv, "PGBOX_ANON_ROLE=pgbox_anonymous\n")
	assert.Contains(t, childEnv, "DATABASE_URL=postgresql://pgbox@/postgres?host=")
	assert.Contains(t, childEnv, "PGDATA=")
	assert.Contains(t, childEnv, "PGHOST=")
}

func TestEnvFileMergedIntoCommand(t *testing.T) {
	env := NewTestEnv(t)
	envFile := filepath.Join(env.Root, "extra.env")
	require.NoError(t, os.WriteFile(envFile, []byte("EXTRA_SETTING=from-dotenv\nPGUSER=shadow\n"), 0o644))
	out := filepath.Join(env.Root, "child.env")

	res := env.RunPgbox("--env-file", envFile, "--", "sh", "-c", "env > "+out)
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	childEnv := string(data)

	assert.Contains(t, childEnv, "EXTRA_SETTING=from-dotenv\n")
	assert.NotContains(t, childEnv, "PGUSER=shadow\n", "connection variables win over dotenv entries")
	assert.Contains(t, childEnv, "PGUSER=pgbox\n")
}

func TestMissingEnvFileIsSetupError(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--env-file", filepath.Join(env.Root, "absent.env"), "--", "true")

	assert.Equal(t, 2, res.ExitCode)
	assert.Empty(t, env.Workspaces())
}

func TestFixtureFileForwardedToPsql(t *testing.T) {
	env := NewTestEnv(t)
	fixture := filepath.Join(env.Root, "seed.sql")
	require.NoError(t, os.WriteFile(fixture, []byte("SELECT 1;\n"), 0o644))

	res := env.RunPgbox("--fixtures", fixture, "--", "true")
	require.Equal(t, 0, res.ExitCode, "stderr: %s", res.Stderr)

	found := false
	for _, line := range env.StubLines() {
		if strings.HasPrefix(line, "psql") && strings.Contains(line, "-f "+fixture) {
			found = true
		}
	}
	assert.True(t, found, "psql invoked with the fixture file")
}

func TestUnstartableCommandExits127(t *testing.T) {
	env := NewTestEnv(t)

	res := env.RunPgbox("--", filepath.Join(env.Root, "no-such-binary"))

	assert.Equal(t, 127, res.ExitCode)
	assert.Empty(t, env.Workspaces(), "teardown still runs when the command cannot start")
}

func TestSignalTriggersTeardown(t *testing.T) {
	env := NewTestEnv(t)

	cmd := env.Command("--", "sleep", "30")
	require.NoError(t, cmd.Start())

	require.True(t, env.WaitForStubLine("psql", 10*time.Second), "setup never reached the fixture step")
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))

	err := cmd.Wait()
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected a nonzero exit, got %v", err)

	assert.Equal(t, 128+int(syscall.SIGTERM), exitErr.ExitCode())
	assert.Equal(t, 1, env.CountStubLines("stop"))
	assert.Empty(t, env.Workspaces())
}

func TestVersionCommand(t *testing.T) {
	env := NewTestEnv(t)

	cmd := exec.Command(pgboxBin, "version")
	cmd.Env = env.environ()
	out, err := cmd.Output()

	require.NoError(t, err)
	assert.Contains(t, string(out), "pgbox")
}
