package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/scangate/scangate/pkg/types"
)

// killGracePeriod is how long a cancelled process gets between SIGINT and SIGKILL.
const killGracePeriod = 5 * time.Second

// RealCommandExecutor is a struct that implements the CommandExecutor interface.
type RealCommandExecutor struct{}

// ExecuteCommand executes a command and returns the stdout, stderr, exit code, and error.
// When ctx is cancelled the process is interrupted and, after a grace period,
// killed, so cancellation never leaves an orphaned scanner process behind.
func (r *RealCommandExecutor) ExecuteCommand(ctx context.Context, name string, args []string,
	env []string) (stdout string, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.WaitDelay = killGracePeriod
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	err = cmd.Run()

	exitCode = -1
	var exitErr *exec.ExitError
	if err == nil {
		exitCode = 0
	} else if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return outb.String(), errb.String(), exitCode, err
}

// NewCommandExecutor creates a new instance of the RealCommandExecutor.
func NewCommandExecutor() types.CommandExecutor {
	return &RealCommandExecutor{}
}
