package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/moviepilot/mpagent/internal/tools"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMCPApp(t *testing.T) *fiber.App {
	t.Helper()

	manager := tools.NewManager(tools.ManagerDependencies{
		Factory: tools.NewFactory(tools.FactoryDependencies{}),
		Session: tools.Session{Notifier: notify.NewRecorder()},
	})
	controller := NewMCPController(MCPControllerDependencies{Tools: manager})

	app := fiber.New()
	app.Post("/mcp", controller.HandleRPC)
	app.Delete("/mcp", controller.DeleteSession)
	app.Get("/mcp/tools", controller.ListTools)
	app.Post("/mcp/tools/call", controller.CallTool)
	app.Get("/mcp/tools/:name", controller.GetTool)
	app.Get("/mcp/tools/:name/schema", controller.GetToolSchema)

	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}

	return resp.StatusCode, decoded
}

func TestMCPController_HandleRPC(t *testing.T) {
	app := newMCPApp(t)

	tests := []struct {
		name   string
		body   string
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "parse error",
			body:   "{not json",
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, float64(-32700), body["error"].(map[string]any)["code"])
				assert.Nil(t, body["id"])
			},
		},
		{
			name:   "wrong version",
			body:   `{"jsonrpc":"1.0","id":7,"method":"ping"}`,
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, float64(-32600), body["error"].(map[string]any)["code"])
				assert.Equal(t, float64(7), body["id"])
			},
		},
		{
			name:   "initialize with a known version",
			body:   `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				result := body["result"].(map[string]any)
				assert.Equal(t, "2024-11-05", result["protocolVersion"])
				assert.Equal(t, "MoviePilot", result["serverInfo"].(map[string]any)["name"])
				assert.Equal(t, mcpServerInstructions, result["instructions"])
			},
		},
		{
			name:   "initialize with an unknown version",
			body:   `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "2025-11-25", body["result"].(map[string]any)["protocolVersion"])
			},
		},
		{
			name:   "initialized notification",
			body:   `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			status: http.StatusNoContent,
		},
		{
			name:   "initialized with an id",
			body:   `{"jsonrpc":"2.0","id":3,"method":"notifications/initialized"}`,
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "initialized must be a notification", body["error"])
			},
		},
		{
			name:   "tools list",
			body:   `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				list := body["result"].(map[string]any)["tools"].([]any)
				require.Len(t, list, 2)
				first := list[0].(map[string]any)
				assert.Equal(t, "send_message", first["name"])
				assert.Contains(t, first, "inputSchema")
			},
		},
		{
			name:   "tools call",
			body:   `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"execute_command","arguments":{"command":"echo hi"}}}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				result := body["result"].(map[string]any)
				content := result["content"].([]any)[0].(map[string]any)
				assert.Equal(t, "text", content["type"])
				assert.Equal(t, "命令执行完成 (退出码: 0)\n\n标准输出:\nhi", content["text"])
				assert.Nil(t, result["isError"])
			},
		},
		{
			name:   "tools call unknown tool",
			body:   `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				result := body["result"].(map[string]any)
				assert.Equal(t, true, result["isError"])
				assert.Equal(t, "错误: 工具 'nope' 未找到", result["content"].([]any)[0].(map[string]any)["text"])
			},
		},
		{
			name:   "tools call without a name",
			body:   `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{}}`,
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				rpcErr := body["error"].(map[string]any)
				assert.Equal(t, float64(-32602), rpcErr["code"])
				assert.Equal(t, "Invalid params", rpcErr["message"])
			},
		},
		{
			name:   "ping",
			body:   `{"jsonrpc":"2.0","id":9,"method":"ping"}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, map[string]any{}, body["result"])
			},
		},
		{
			name:   "unknown method",
			body:   `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`,
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				rpcErr := body["error"].(map[string]any)
				assert.Equal(t, float64(-32601), rpcErr["code"])
				assert.Equal(t, "Method not found: resources/list", rpcErr["message"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, "/mcp", tt.body)

			assert.Equal(t, tt.status, status)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestMCPController_REST(t *testing.T) {
	app := newMCPApp(t)

	status, _ := do(t, app, http.MethodDelete, "/mcp", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, body := do(t, app, http.MethodGet, "/mcp/tools/execute_command", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "execute_command", body["name"])

	status, body = do(t, app, http.MethodGet, "/mcp/tools/execute_command/schema", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "object", body["type"])

	status, _ = do(t, app, http.MethodGet, "/mcp/tools/missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, app, http.MethodPost, "/mcp/tools/call", `{"tool_name":"execute_command","arguments":{"command":"echo ok"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "命令执行完成 (退出码: 0)\n\n标准输出:\nok", body["result"])

	status, body = do(t, app, http.MethodPost, "/mcp/tools/call", `{"tool_name":"missing"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "工具 'missing' 未找到", body["error"])

	status, _ = do(t, app, http.MethodPost, "/mcp/tools/call", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}
