package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog/log"
)

type SendMessageArgs struct {
	Explanation string `json:"explanation" jsonschema:"Clear explanation of why this tool is being used in the current context"`
	Message     string `json:"message" jsonschema:"The message content to send to the user (should be clear and informative)"`
	MessageType string `json:"message_type,omitempty" jsonschema:"Type of message: 'info' for general information, 'success' for successful operations, 'warning' for warnings, 'error' for error messages"`
}

var messageTypeNames = map[string]string{
	"info":    "信息",
	"success": "成功",
	"warning": "警告",
	"error":   "错误",
}

type SendMessageTool struct {
	session Session
	schema  *jsonschema.Schema
}

func NewSendMessageTool(session Session) *SendMessageTool {
	return &SendMessageTool{
		session: session,
		schema:  schemaFor[SendMessageArgs](),
	}
}

func (t *SendMessageTool) Name() string {
	return "send_message"
}

func (t *SendMessageTool) Description() string {
	return "Send notification message to the user through configured notification channels (Telegram, Slack, WeChat, etc.). Used to inform users about operation results, errors, or important updates."
}

func (t *SendMessageTool) Parameters() *jsonschema.Schema {
	return t.schema
}

func (t *SendMessageTool) StatusMessage(args map[string]any) string {
	message, _ := args["message"].(string)

	messageType, _ := args["message_type"].(string)
	if messageType == "" {
		messageType = "info"
	}

	typeName, ok := messageTypeNames[messageType]
	if !ok {
		typeName = messageType
	}

	return fmt.Sprintf("正在发送%s消息: %s", typeName, truncateRunes(message, 50, "..."))
}

func (t *SendMessageTool) Run(ctx context.Context, args map[string]any) (any, error) {
	input, err := decodeArgs[SendMessageArgs](args)
	if err != nil {
		return nil, err
	}

	if input.MessageType == "" {
		input.MessageType = "info"
	}

	log.Info().
		Str("tool", t.Name()).
		Str("message_type", input.MessageType).
		Msg("Sending message to user")

	if err := t.session.Notify(ctx, input.MessageType, input.Message); err != nil {
		log.Error().Err(err).Msg("Failed to send message")
		return fmt.Sprintf("发送消息时发生错误: %s", err), nil
	}

	return "消息已发送", nil
}
