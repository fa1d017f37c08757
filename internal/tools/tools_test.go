package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name     string
		result   any
		expected string
	}{
		{name: "string", result: "done", expected: "done"},
		{name: "int", result: 42, expected: "42"},
		{name: "float", result: 1.5, expected: "1.5"},
		{name: "map keeps non ascii", result: map[string]any{"title": "流浪地球"}, expected: "{\n  \"title\": \"流浪地球\"\n}"},
		{name: "list", result: []int{1, 2}, expected: "[\n  1,\n  2\n]"},
		{name: "nil", result: nil, expected: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatResult(tt.result))
		})
	}
}

func TestSchemaMap_BuiltinSchemas(t *testing.T) {
	schema := SchemaMap(NewSendMessageTool(Session{}).Parameters())

	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, properties, "explanation")
	assert.Contains(t, properties, "message")
	assert.Contains(t, properties, "message_type")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"explanation", "message"}, required)
}

func TestSendMessageTool(t *testing.T) {
	recorder := notify.NewRecorder()
	tool := NewSendMessageTool(Session{SessionID: "s", UserID: "u", Channel: "Telegram", Notifier: recorder})

	t.Run("status message", func(t *testing.T) {
		long := "这是一条非常长的消息内容，用来测试截断逻辑是否按照字符而不是字节来截断，确保中文不会被截成乱码而显示异常的情况"

		status := tool.StatusMessage(map[string]any{"message": long, "message_type": "warning"})
		assert.Equal(t, "正在发送警告消息: "+string([]rune(long)[:50])+"...", status)

		assert.Equal(t, "正在发送信息消息: hi", tool.StatusMessage(map[string]any{"message": "hi"}))
		assert.Equal(t, "正在发送custom消息: hi", tool.StatusMessage(map[string]any{"message": "hi", "message_type": "custom"}))
	})

	t.Run("sends through the session", func(t *testing.T) {
		result, err := tool.Run(context.Background(), map[string]any{"explanation": "x", "message": "下载完成", "message_type": "success"})
		require.NoError(t, err)
		assert.Equal(t, "消息已发送", result)

		notifications := recorder.Notifications()
		require.Len(t, notifications, 1)
		assert.Equal(t, "success", notifications[0].Title)
		assert.Equal(t, "下载完成", notifications[0].Text)
		assert.Equal(t, "Telegram", notifications[0].Channel)
		assert.Equal(t, "u", notifications[0].UserID)
	})

	t.Run("delivery failure is a result", func(t *testing.T) {
		recorder.Err = errors.New("offline")
		defer func() { recorder.Err = nil }()

		result, err := tool.Run(context.Background(), map[string]any{"message": "x"})
		require.NoError(t, err)
		assert.Equal(t, "发送消息时发生错误: offline", result)
	})
}

func TestExecuteCommandTool(t *testing.T) {
	tool := NewExecuteCommandTool()
	ctx := context.Background()

	assert.Equal(t, "正在执行系统命令: ls -la", tool.StatusMessage(map[string]any{"command": "ls -la"}))

	tests := []struct {
		name     string
		args     map[string]any
		expected string
		contains []string
	}{
		{
			name:     "forbidden keyword",
			args:     map[string]any{"command": "sudo reboot now"},
			expected: "错误：命令包含禁止使用的关键字 'reboot'",
		},
		{
			name:     "stdout",
			args:     map[string]any{"command": "echo hello"},
			expected: "命令执行完成 (退出码: 0)\n\n标准输出:\nhello",
		},
		{
			name:     "stderr and exit code",
			args:     map[string]any{"command": "echo oops >&2; exit 3"},
			expected: "命令执行完成 (退出码: 3)\n\n错误输出:\noops",
		},
		{
			name:     "no output",
			args:     map[string]any{"command": "true"},
			expected: "命令执行完成 (退出码: 0)\n\n(无输出内容)",
		},
		{
			name:     "timeout",
			args:     map[string]any{"command": "sleep 5", "timeout": 1},
			expected: "命令执行超时 (限制: 1秒)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Run(ctx, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatCommandOutput_Truncates(t *testing.T) {
	long := make([]rune, 4000)
	for i := range long {
		long[i] = '好'
	}

	out := formatCommandOutput(0, string(long), "")

	assert.Equal(t, 3000+len([]rune("\n\n...(输出内容过长，已截断)")), len([]rune(out)))
	assert.Contains(t, out, "...(输出内容过长，已截断)")
}

func TestManager(t *testing.T) {
	factory := NewFactory(FactoryDependencies{})
	manager := NewManager(ManagerDependencies{Factory: factory, Session: Session{Notifier: notify.NewRecorder()}})

	definitions := manager.ListTools()
	names := make([]string, 0, len(definitions))
	for _, d := range definitions {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"send_message", "execute_command"}, names)

	t.Run("unknown tool", func(t *testing.T) {
		result := manager.CallTool(context.Background(), "nope", nil)

		var body map[string]string
		require.NoError(t, json.Unmarshal([]byte(result), &body))
		assert.Equal(t, "工具 'nope' 未找到", body["error"])
	})

	t.Run("string arguments are coerced", func(t *testing.T) {
		result := manager.CallTool(context.Background(), "execute_command", map[string]any{
			"command": "echo ok",
			"timeout": "10",
		})
		assert.Equal(t, "命令执行完成 (退出码: 0)\n\n标准输出:\nok", result)
	})
}

func TestNormalizeArguments(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"count":   map[string]any{"type": "integer"},
			"ratio":   map[string]any{"type": "number"},
			"flag":    map[string]any{"type": "boolean"},
			"maybe":   map[string]any{"anyOf": []any{map[string]any{"type": "integer"}, map[string]any{"type": "null"}}},
			"union":   map[string]any{"type": []any{"null", "boolean"}},
			"comment": map[string]any{"type": "string"},
		},
	}

	normalized := NormalizeArguments(schema, map[string]any{
		"count":   "3",
		"ratio":   "0.5",
		"flag":    "YES",
		"maybe":   "7",
		"union":   float64(0),
		"comment": "42",
		"extra":   "kept",
	})

	assert.Equal(t, map[string]any{
		"count":   3,
		"ratio":   0.5,
		"flag":    true,
		"maybe":   7,
		"union":   false,
		"comment": "42",
		"extra":   "kept",
	}, normalized)

	bad := NormalizeArguments(schema, map[string]any{"count": "many"})
	assert.Nil(t, bad["count"])
}
