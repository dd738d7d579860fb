package execadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultCLITimeout = 60 * time.Second

// CLIAdapter executes operations by running an external command line tool
// and parsing its stdout as JSON when possible.
type CLIAdapter struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewCLIAdapter creates a CLI adapter.
func NewCLIAdapter(logger *slog.Logger) *CLIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIAdapter{timeout: defaultCLITimeout, logger: logger}
}

// Execute runs the requested tool and returns a normalized Outcome.
// The tool's exit code becomes the StatusCode.
func (a *CLIAdapter) Execute(ctx context.Context, operationID string, req Request) (Outcome, error) {
	if req.Tool == "" {
		return Outcome{
			Success: false,
			Body:    map[string]any{},
			Error:   "missing tool for CLI request",
			Class:   FailureValidation,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, req.Tool, req.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	durationMS := time.Since(start).Milliseconds()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		a.logger.Warn("cli execution failed",
			slog.String("operation", operationID), slog.String("error", runErr.Error()))
		return Outcome{
			Success:    false,
			Body:       map[string]any{},
			Error:      runErr.Error(),
			DurationMS: durationMS,
			Class:      FailureTransient,
		}, nil
	}

	body := parseCLIOutput(stdout.String(), stderr.String())
	success := exitCode == 0
	out := Outcome{
		Success:    success,
		StatusCode: exitCode,
		Body:       body,
		DurationMS: durationMS,
	}
	if !success {
		out.Error = "exit " + strconv.Itoa(exitCode)
		out.Class = FailureUnknown
	}
	return out, nil
}

func parseCLIOutput(stdout, stderr string) map[string]any {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)

	var body map[string]any
	if stdout != "" {
		if err := json.Unmarshal([]byte(stdout), &body); err != nil {
			body = map[string]any{"stdout": truncate(stdout, 2000)}
		}
	} else {
		body = map[string]any{}
	}
	if stderr != "" {
		body["stderr"] = truncate(stderr, 2000)
	}
	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
