// Child environment assembly.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/joho/godotenv"

	"github.com/mesh-intelligence/pgbox/pkg/types"
)

// childEnv assembles the environment contract for the child command: the
// calling environment, then optional dotenv entries, then the fixed
// connection variables. Later entries win, so the connection contract can
// never be shadowed.
func (h *Harness) childEnv() ([]string, error) {
	env := os.Environ()

	if h.cfg.EnvFile != "" {
		extra, err := godotenv.Read(h.cfg.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range extra {
			env = append(env, k+"="+v)
		}
	}

	conn := h.srv.Conn()
	env = append(env,
		types.EnvDataDir+"="+conn.DataDir,
		types.EnvSocketDir+"="+conn.SocketDir,
		types.EnvRole+"="+conn.Role,
		types.EnvDatabase+"="+conn.Database,
		types.EnvDatabaseURL+"="+conn.URI(),
		types.EnvSchema+"="+types.Schema,
		types.EnvAnonRole+"="+types.AnonRole,
	)
	return env, nil
}

// runChildCommand executes the child with inherited standard streams and
// waits for it, preserving its exit status. The harness stays alive for
// the whole run; teardown happens after the child exits.
func runChildCommand(ctx context.Context, env []string, name string, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	// Could not be started at all: the conventional command-not-found code.
	return 127, err
}
