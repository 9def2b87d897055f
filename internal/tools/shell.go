package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	shellTimeout   = 60 * time.Second
	shellMaxOutput = 30000
)

// ShellTool runs a command under bash with a timeout and a bounded output.
type ShellTool struct {
	workdir string
}

func NewShellTool(workdir string) *ShellTool {
	return &ShellTool{workdir: workdir}
}

func (t *ShellTool) Name() string { return "bash" }

func (t *ShellTool) Description() string {
	return "Run a shell command and return its combined output."
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	cctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", command)
	if t.workdir != "" {
		cmd.Dir = t.workdir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > shellMaxOutput {
		output = output[:shellMaxOutput] + "\n... (output truncated)"
	}

	if cctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", shellTimeout, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)).WithError(err)
	}
	if output == "" {
		return NewResult("(no output)")
	}
	return NewResult(output)
}
