package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"jwstascii-lambda-updater/pkg/logger"
)

// Runner executes an external build tool. The packaging stages depend on it
// instead of os/exec directly so tests can substitute a fake installer.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands through os/exec, streaming output to the
// surrounding process.
type ExecRunner struct {
	logger *logger.Logger

	// Dir is the working directory for every command. Empty means the
	// current directory.
	Dir string
}

// NewExecRunner creates a new command runner
func NewExecRunner(log *logger.Logger) *ExecRunner {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &ExecRunner{logger: log}
}

// Run executes the command and waits for it to finish. Any non-zero exit is
// returned as an error; the pipeline never retries a failed tool.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	r.logger.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("Running command")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", name, err)
	}

	return nil
}
