// Package integration contains end-to-end tests that run the pgbox binary
// against stub PostgreSQL executables. The stubs record their invocations so
// tests can assert on the lifecycle without a real server.
package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var (
	// pgboxBin is the path to the compiled pgbox binary, set by TestMain.
	pgboxBin string

	// buildErr records a build failure so every test can report it.
	buildErr error
)

// SetPgboxBin records the binary path for RunPgbox.
func SetPgboxBin(path string) {
	pgboxBin = path
}

// SetBuildErr records a binary build failure.
func SetBuildErr(err error) {
	buildErr = err
}

// FindProjectRoot walks up from the current directory until it finds go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above %s", dir)
		}
		dir = parent
	}
}

// stubScripts are minimal shell stand-ins for the PostgreSQL client tools.
// Each appends its name and arguments to the invocation log named by
// PGBOX_STUB_LOG. pg_isready succeeds once the attempt count reaches
// PGBOX_STUB_READY_AFTER, and psql exits with PGBOX_STUB_PSQL_EXIT.
var stubScripts = map[string]string{
	"initdb": `#!/bin/sh
echo "initdb $@" >> "$PGBOX_STUB_LOG"
exit 0
`,
	"pg_ctl": `#!/bin/sh
echo "pg_ctl $@" >> "$PGBOX_STUB_LOG"
exit 0
`,
	"pg_isready": `#!/bin/sh
echo "pg_isready $@" >> "$PGBOX_STUB_LOG"
n=0
[ -f "$PGBOX_STUB_READY_COUNT" ] && n=$(cat "$PGBOX_STUB_READY_COUNT")
n=$((n+1))
echo "$n" > "$PGBOX_STUB_READY_COUNT"
if [ "$n" -lt "${PGBOX_STUB_READY_AFTER:-1}" ]; then
  exit 2
fi
exit 0
`,
	"psql": `#!/bin/sh
echo "psql $@" >> "$PGBOX_STUB_LOG"
exit "${PGBOX_STUB_PSQL_EXIT:-0}"
`,
}

// TestEnv provides an isolated environment for one pgbox invocation: a stub
// binary directory, a private workspace parent, a config directory, and the
// stub invocation log.
type TestEnv struct {
	t         *testing.T
	Root      string
	BinDir    string
	WorkDir   string
	ConfigDir string
	StubLog   string

	// ReadyAfter makes pg_isready fail until the Nth attempt.
	ReadyAfter int

	// PsqlExit forces the psql stub to exit with this code.
	PsqlExit int

	// Extra is appended to the child environment of the pgbox process.
	Extra []string
}

// NewTestEnv creates stub binaries and isolated directories under t.TempDir.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if buildErr != nil {
		t.Fatalf("pgbox binary unavailable: %v", buildErr)
	}

	root := t.TempDir()
	env := &TestEnv{
		t:         t,
		Root:      root,
		BinDir:    filepath.Join(root, "stubbin"),
		WorkDir:   filepath.Join(root, "work"),
		ConfigDir: filepath.Join(root, "config"),
		StubLog:   filepath.Join(root, "stub.log"),
	}
	for _, dir := range []string{env.BinDir, env.WorkDir, env.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	for name, body := range stubScripts {
		path := filepath.Join(env.BinDir, name)
		if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}
	return env
}

// CmdResult captures the outcome of a pgbox invocation.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// environ builds the environment for the pgbox process.
func (e *TestEnv) environ() []string {
	env := append(os.Environ(),
		"PGBOX_CONFIG_DIR="+e.ConfigDir,
		"PGBOX_STUB_LOG="+e.StubLog,
		"PGBOX_STUB_READY_COUNT="+filepath.Join(e.Root, "ready.count"),
	)
	if e.ReadyAfter > 0 {
		env = append(env, fmt.Sprintf("PGBOX_STUB_READY_AFTER=%d", e.ReadyAfter))
	}
	if e.PsqlExit > 0 {
		env = append(env, fmt.Sprintf("PGBOX_STUB_PSQL_EXIT=%d", e.PsqlExit))
	}
	return append(env, e.Extra...)
}

// Command builds an exec.Cmd for pgbox with the stub bin dir and isolated
// workspace parent wired through flags.
func (e *TestEnv) Command(args ...string) *exec.Cmd {
	full := append([]string{"--bin-dir", e.BinDir, "--work-dir", e.WorkDir}, args...)
	cmd := exec.Command(pgboxBin, full...)
	cmd.Env = e.environ()
	return cmd
}

// RunPgbox runs pgbox to completion and captures stdout, stderr, and the
// exit code.
func (e *TestEnv) RunPgbox(args ...string) CmdResult {
	e.t.Helper()
	cmd := e.Command(args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := CmdResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			e.t.Fatalf("run pgbox: %v", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res
}

// StubLines returns the stub invocation log lines, oldest first.
func (e *TestEnv) StubLines() []string {
	e.t.Helper()
	data, err := os.ReadFile(e.StubLog)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		e.t.Fatalf("read stub log: %v", err)
	}
	out := strings.TrimSpace(string(data))
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// CountStubLines counts invocation log lines containing substr.
func (e *TestEnv) CountStubLines(substr string) int {
	count := 0
	for _, line := range e.StubLines() {
		if strings.Contains(line, substr) {
			count++
		}
	}
	return count
}

// Workspaces lists the pgbox workspace directories under WorkDir.
func (e *TestEnv) Workspaces() []string {
	e.t.Helper()
	entries, err := os.ReadDir(e.WorkDir)
	if err != nil {
		e.t.Fatalf("read work dir: %v", err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "pgbox-") {
			dirs = append(dirs, filepath.Join(e.WorkDir, entry.Name()))
		}
	}
	return dirs
}

// WaitForStubLine polls the invocation log until a line containing substr
// appears or the timeout expires.
func (e *TestEnv) WaitForStubLine(substr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.CountStubLines(substr) > 0 {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
