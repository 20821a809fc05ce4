package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// CommandError is a failed external command with its captured log.
type CommandError struct {
	Message string
	Log     CommandLog
	Err     error
}

// Error formats the failure with command and exit code.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	if e.Log.Command == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (cmd=%s exit=%d)", e.Message, e.Log.Command, e.Log.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandLog, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandLog, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	log := CommandLog{
		Command: name,
		Args:    args,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
		return log, err
	}

	return log, nil
}
