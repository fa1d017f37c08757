package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCommandTimeout = 60 * time.Second
	maxCommandOutput      = 3000
)

var forbiddenCommandKeywords = []string{
	"rm -rf /",
	":(){ :|:& };:",
	"dd if=/dev/zero",
	"mkfs",
	"reboot",
	"shutdown",
}

type ExecuteCommandArgs struct {
	Explanation string `json:"explanation" jsonschema:"Clear explanation of why this command is being executed"`
	Command     string `json:"command" jsonschema:"The shell command to execute"`
	Timeout     int    `json:"timeout,omitempty" jsonschema:"Max execution time in seconds (default: 60)"`
}

type ExecuteCommandTool struct {
	schema *jsonschema.Schema
	shell  string
}

func NewExecuteCommandTool() *ExecuteCommandTool {
	return &ExecuteCommandTool{
		schema: schemaFor[ExecuteCommandArgs](),
		shell:  "sh",
	}
}

func (t *ExecuteCommandTool) Name() string {
	return "execute_command"
}

func (t *ExecuteCommandTool) Description() string {
	return "Safely execute shell commands on the server. Useful for system maintenance, checking status, or running custom scripts. Includes timeout and output limits."
}

func (t *ExecuteCommandTool) Parameters() *jsonschema.Schema {
	return t.schema
}

func (t *ExecuteCommandTool) StatusMessage(args map[string]any) string {
	command, _ := args["command"].(string)
	return fmt.Sprintf("正在执行系统命令: %s", command)
}

func (t *ExecuteCommandTool) Run(ctx context.Context, args map[string]any) (any, error) {
	input, err := decodeArgs[ExecuteCommandArgs](args)
	if err != nil {
		return nil, err
	}

	timeout := DefaultCommandTimeout
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout) * time.Second
	}

	log.Info().Str("tool", t.Name()).Str("command", input.Command).Dur("timeout", timeout).Msg("Executing command")

	for _, keyword := range forbiddenCommandKeywords {
		if strings.Contains(input.Command, keyword) {
			return fmt.Sprintf("错误：命令包含禁止使用的关键字 '%s'", keyword), nil
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", input.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Sprintf("命令执行超时 (限制: %d秒)", int(timeout.Seconds())), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			log.Error().Err(runErr).Str("command", input.Command).Msg("Failed to execute command")
			return fmt.Sprintf("执行命令时发生错误: %s", runErr), nil
		}
		exitCode = exitErr.ExitCode()
	}

	return formatCommandOutput(exitCode, stdout.String(), stderr.String()), nil
}

func formatCommandOutput(exitCode int, stdout, stderr string) string {
	stdout = strings.TrimSpace(strings.ToValidUTF8(stdout, "�"))
	stderr = strings.TrimSpace(strings.ToValidUTF8(stderr, "�"))

	var b strings.Builder

	fmt.Fprintf(&b, "命令执行完成 (退出码: %d)", exitCode)
	if stdout != "" {
		fmt.Fprintf(&b, "\n\n标准输出:\n%s", stdout)
	}
	if stderr != "" {
		fmt.Fprintf(&b, "\n\n错误输出:\n%s", stderr)
	}
	if stdout == "" && stderr == "" {
		b.WriteString("\n\n(无输出内容)")
	}

	return truncateRunes(b.String(), maxCommandOutput, "\n\n...(输出内容过长，已截断)")
}
