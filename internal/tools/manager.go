package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/rs/zerolog/log"
)

const (
	APIUserID   = "api_user"
	APISource   = "api"
	APIUsername = "API Client"
)

type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type ManagerDependencies struct {
	Factory *Factory
	Session Session
}

// Manager exposes the tool list to callers outside an agent turn, such as
// the HTTP tool endpoints and the CLI
type Manager struct {
	tools []Capability
}

func NewManager(deps ManagerDependencies) *Manager {
	session := deps.Session
	if session.UserID == "" {
		session.UserID = APIUserID
	}
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.Source == "" {
		session.Source = APISource
	}
	if session.Username == "" {
		session.Username = APIUsername
	}

	tools := deps.Factory.Create(session)

	log.Info().Int("tools", len(tools)).Msg("Tool manager loaded tools")

	return &Manager{tools: tools}
}

func definitionOf(t Capability) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: SchemaMap(t.Parameters()),
	}
}

func (m *Manager) ListTools() []Definition {
	definitions := make([]Definition, 0, len(m.tools))
	for _, t := range m.tools {
		definitions = append(definitions, definitionOf(t))
	}

	return definitions
}

func (m *Manager) Describe(name string) (Definition, bool) {
	t, ok := m.GetTool(name)
	if !ok {
		return Definition{}, false
	}

	return definitionOf(t), true
}

func (m *Manager) GetTool(name string) (Capability, bool) {
	for _, t := range m.tools {
		if t.Name() == name {
			return t, true
		}
	}

	return nil, false
}

// CallError is a failed direct tool call. Message is user-facing.
type CallError struct {
	Message string
	Err     error
}

func (e *CallError) Error() string {
	return e.Message
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Call runs a tool directly with schema-normalized arguments
func (m *Manager) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := m.GetTool(name)
	if !ok {
		return "", &CallError{Message: fmt.Sprintf("工具 '%s' 未找到", name), Err: types.ErrToolNotFound}
	}

	normalized := NormalizeArguments(SchemaMap(t.Parameters()), args)

	result, err := t.Run(ctx, normalized)
	if err != nil {
		log.Error().Err(err).Str("tool", name).Msg("Tool call failed")
		return "", &CallError{Message: fmt.Sprintf("调用工具 '%s' 时发生错误: %s", name, err), Err: err}
	}

	return FormatResult(result), nil
}

// CallTool is Call for callers that only take text. Failures come back as a
// JSON object with an error field.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) string {
	text, err := m.Call(ctx, name, args)
	if err != nil {
		return errorJSON(err.Error())
	}

	return text
}

func errorJSON(message string) string {
	data, _ := json.Marshal(map[string]string{"error": message})
	return string(data)
}

// NormalizeArguments coerces string values to the integer, number or boolean
// type the schema declares. Unknown fields pass through.
func NormalizeArguments(schema map[string]any, args map[string]any) map[string]any {
	properties, _ := schema["properties"].(map[string]any)

	normalized := make(map[string]any, len(args))
	for key, value := range args {
		field, ok := properties[key].(map[string]any)
		if !ok {
			normalized[key] = value
			continue
		}

		normalized[key] = normalizeValue(key, fieldType(field), value)
	}

	return normalized
}

// fieldType resolves the declared type, looking through nullable unions
func fieldType(field map[string]any) string {
	switch t := field["type"].(type) {
	case string:
		return t
	case []any:
		for _, option := range t {
			if s, ok := option.(string); ok && s != "null" {
				return s
			}
		}
	}

	if anyOf, ok := field["anyOf"].([]any); ok {
		for _, option := range anyOf {
			if o, ok := option.(map[string]any); ok {
				if s, ok := o["type"].(string); ok && s != "null" {
					return s
				}
			}
		}
	}

	return ""
}

func normalizeValue(key, fieldType string, value any) any {
	switch fieldType {
	case "integer":
		if s, ok := value.(string); ok {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				log.Warn().Str("argument", key).Str("value", s).Msg("Cannot convert argument to integer")
				return nil
			}
			return n
		}
	case "number":
		if s, ok := value.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				log.Warn().Str("argument", key).Str("value", s).Msg("Cannot convert argument to number")
				return nil
			}
			return f
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(v) {
			case "true", "1", "yes", "on":
				return true
			}
			return false
		case float64:
			return v != 0
		case int:
			return v != 0
		default:
			return true
		}
	}

	return value
}
