// Package tools holds the capabilities the agent can call: built-in tools
// and script tools loaded from plugin directories.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/moviepilot/mpagent/internal/notify"
)

// Capability is one tool the agent may call. Run receives the decoded
// argument object chosen by the model.
type Capability interface {
	Name() string
	Description() string
	Parameters() *jsonschema.Schema
	Run(ctx context.Context, args map[string]any) (any, error)
}

// StatusMessenger is implemented by capabilities that describe a pending
// call in user-facing words
type StatusMessenger interface {
	StatusMessage(args map[string]any) string
}

// Session identifies who a tool acts for and where replies go
type Session struct {
	SessionID string
	UserID    string
	Channel   string
	Source    string
	Username  string
	Notifier  notify.Notifier
}

func (s Session) Notify(ctx context.Context, title, text string) error {
	if s.Notifier == nil {
		return nil
	}

	return s.Notifier.Send(ctx, notify.Notification{
		Channel:  s.Channel,
		Source:   s.Source,
		UserID:   s.UserID,
		Username: s.Username,
		Title:    title,
		Text:     text,
	})
}

// FormatResult renders a tool result for the model: strings pass through,
// numbers are stringified, anything else becomes indented JSON keeping
// non-ASCII text.
func FormatResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}

	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(result); err != nil {
		return fmt.Sprint(result)
	}

	return strings.TrimRight(buf.String(), "\n")
}

// SchemaMap converts a schema into the plain map providers send on the wire
func SchemaMap(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return out
}

// schemaFor infers the argument schema of a built-in tool from its argument
// struct. Fields without omitempty are required.
func schemaFor[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("invalid tool argument type: %v", err))
	}

	return schema
}

// decodeArgs maps the argument object onto a typed argument struct
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T

	data, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("failed to encode arguments: %w", err)
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}

	return out, nil
}

// truncateRunes shortens s to max characters, appending suffix when cut
func truncateRunes(s string, max int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max]) + suffix
}
