// Command execution for the external PostgreSQL binaries.
package postgres

import (
	"context"

	execute "github.com/alexellis/go-execute/v2"
)

// Result captures the outcome of one external command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external command and waits for it. The production
// implementation shells out; tests substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands through go-execute, capturing their output.
type ExecRunner struct{}

// Run executes name with args and returns its captured output and exit
// code. An error is returned only when the command could not be run at
// all; a nonzero exit code is reported through Result.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	task := execute.ExecTask{
		Command: name,
		Args:    args,
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, err
	}
	return Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}
