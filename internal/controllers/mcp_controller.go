package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/moviepilot/mpagent/internal/tools"
	"github.com/moviepilot/mpagent/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

const (
	jsonRPCVersion = "2.0"

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	mcpServerName         = "MoviePilot"
	mcpServerDescription  = "MoviePilot MCP Server - 电影自动化管理工具"
	mcpServerInstructions = "MoviePilot MCP 服务器，提供媒体管理、订阅、下载等工具。"
)

// SupportedProtocolVersions lists MCP revisions newest first; the first is
// offered when the client asks for one we do not know
var SupportedProtocolVersions = []string{"2025-11-25", "2025-06-18", "2024-11-05"}

type ToolService interface {
	ListTools() []tools.Definition
	Describe(name string) (tools.Definition, bool)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// MCPController exposes the tool catalog over MCP streamable HTTP and a
// plain REST surface
type MCPController struct {
	tools ToolService
}

type MCPControllerDependencies struct {
	Tools ToolService
}

func NewMCPController(deps MCPControllerDependencies) *MCPController {
	return &MCPController{
		tools: deps.Tools,
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r rpcRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// errRPC carries a JSON-RPC error out of a method handler
type errRPC struct {
	status int
	rpcError
}

func (e *errRPC) Error() string {
	return e.Message
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// HandleRPC serves POST /mcp
func (c *MCPController) HandleRPC(ctx fiber.Ctx) error {
	var req rpcRequest

	if err := json.Unmarshal(ctx.Body(), &req); err != nil {
		return c.rpcFailure(ctx, fiber.StatusBadRequest, nil, rpcError{Code: codeParseError, Message: "Parse error", Data: err.Error()})
	}

	if req.JSONRPC != jsonRPCVersion {
		return c.rpcFailure(ctx, fiber.StatusBadRequest, req.ID, rpcError{Code: codeInvalidRequest, Message: "Invalid Request"})
	}

	log.Debug().Str("method", req.Method).Msg("MCP request")

	if req.Method == "notifications/initialized" {
		if !req.isNotification() {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "initialized must be a notification",
			})
		}

		return ctx.SendStatus(fiber.StatusNoContent)
	}

	result, err := c.dispatch(ctx.RequestCtx(), req)
	if err != nil {
		var rpcErr *errRPC
		if errors.As(err, &rpcErr) {
			return c.rpcFailure(ctx, rpcErr.status, req.ID, rpcErr.rpcError)
		}

		log.Error().Err(err).Str("method", req.Method).Msg("MCP request failed")
		return c.rpcFailure(ctx, fiber.StatusInternalServerError, req.ID, rpcError{Code: codeInternalError, Message: "Internal error", Data: err.Error()})
	}

	return ctx.JSON(rpcResponse{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Result:  result,
	})
}

// DeleteSession serves DELETE /mcp. Sessions are stateless.
func (c *MCPController) DeleteSession(ctx fiber.Ctx) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *MCPController) rpcFailure(ctx fiber.Ctx, status int, id json.RawMessage, rpcErr rpcError) error {
	return ctx.Status(status).JSON(rpcResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &rpcErr,
	})
}

func (c *MCPController) dispatch(ctx context.Context, req rpcRequest) (any, error) {
	switch req.Method {
	case "initialize":
		return c.initialize(req.Params)
	case "tools/list":
		return fiber.Map{"tools": c.tools.ListTools()}, nil
	case "tools/call":
		return c.callTool(ctx, req.Params)
	case "ping":
		return fiber.Map{}, nil
	default:
		return nil, &errRPC{
			status:   fiber.StatusOK,
			rpcError: rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)},
		}
	}
}

func (c *MCPController) initialize(params json.RawMessage) (any, error) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
	}

	protocolVersion := SupportedProtocolVersions[0]
	if slices.Contains(SupportedProtocolVersions, p.ProtocolVersion) {
		protocolVersion = p.ProtocolVersion
	}

	return fiber.Map{
		"protocolVersion": protocolVersion,
		"capabilities": fiber.Map{
			"tools":   fiber.Map{"listChanged": false},
			"logging": fiber.Map{},
		},
		"serverInfo": fiber.Map{
			"name":        mcpServerName,
			"version":     version.GetVersion(),
			"description": mcpServerDescription,
		},
		"instructions": mcpServerInstructions,
	}, nil
}

func (c *MCPController) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
	}

	if p.Name == "" {
		return nil, invalidParams(errors.New("tool name is required"))
	}

	text, err := c.tools.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		return toolCallResult{
			Content: []textContent{{Type: "text", Text: "错误: " + err.Error()}},
			IsError: true,
		}, nil
	}

	return toolCallResult{
		Content: []textContent{{Type: "text", Text: text}},
	}, nil
}

func invalidParams(err error) error {
	return &errRPC{
		status:   fiber.StatusBadRequest,
		rpcError: rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()},
	}
}

// ListTools serves GET /mcp/tools
func (c *MCPController) ListTools(ctx fiber.Ctx) error {
	return ctx.JSON(c.tools.ListTools())
}

// GetTool serves GET /mcp/tools/:name
func (c *MCPController) GetTool(ctx fiber.Ctx) error {
	definition, ok := c.tools.Describe(ctx.Params("name"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("工具 '%s' 未找到", ctx.Params("name")))
	}

	return ctx.JSON(definition)
}

// GetToolSchema serves GET /mcp/tools/:name/schema
func (c *MCPController) GetToolSchema(ctx fiber.Ctx) error {
	definition, ok := c.tools.Describe(ctx.Params("name"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("工具 '%s' 未找到", ctx.Params("name")))
	}

	return ctx.JSON(definition.InputSchema)
}

type ToolCallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolCallResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CallTool serves POST /mcp/tools/call
func (c *MCPController) CallTool(ctx fiber.Ctx) error {
	var req ToolCallRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.ToolName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tool_name is required")
	}

	text, err := c.tools.Call(ctx.RequestCtx(), req.ToolName, req.Arguments)
	if err != nil {
		return ctx.JSON(ToolCallResponse{Success: false, Error: err.Error()})
	}

	return ctx.JSON(ToolCallResponse{Success: true, Result: text})
}
