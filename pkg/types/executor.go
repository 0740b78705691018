package types

import "context"

// CommandExecutor is an interface for executing external scanner commands.
type CommandExecutor interface {
	// ExecuteCommand executes a command with the given name, arguments, and environment variables.
	// The command is terminated when the context is cancelled or its deadline expires.
	// It returns the standard output, standard error, the process exit code, and any error
	// that occurred during execution. The exit code is -1 when the process never started.
	ExecuteCommand(ctx context.Context, name string, args []string,
		env []string) (stdout string, stderr string, exitCode int, err error)
}
