// Package tokenizer estimates the token cost of prompt messages.
package tokenizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rs/zerolog/log"
)

const (
	FallbackEncoding = "cl100k_base"

	messageOverhead  = 3
	toolCallOverhead = 3
	roleWeight       = 1

	// ReplyPriming is added once per count for the assistant reply header
	ReplyPriming = 3
)

// Encoder returns the number of tokens text encodes to
type Encoder interface {
	Encode(text string) int
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Encode(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// HeuristicEncoder approximates ~4 characters per token
type HeuristicEncoder struct{}

func (HeuristicEncoder) Encode(text string) int {
	if len(text) == 0 {
		return 0
	}

	return (len(text) + 3) / 4
}

// BPE tables ship with the binary so counting works without network access
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encodersMu sync.Mutex
	encoders   = map[string]Encoder{}
)

// EncoderForModel resolves the BPE encoding of model, falling back to
// cl100k_base and finally to the heuristic encoder when no BPE table can be
// loaded. Resolved encoders are shared process wide.
func EncoderForModel(model string) Encoder {
	encodersMu.Lock()
	defer encodersMu.Unlock()

	if enc, ok := encoders[model]; ok {
		return enc
	}

	var enc Encoder

	if tk, err := tiktoken.EncodingForModel(model); err == nil {
		enc = tiktokenEncoder{enc: tk}
	} else if tk, err := tiktoken.GetEncoding(FallbackEncoding); err == nil {
		log.Debug().Str("model", model).Msg("No model specific encoding, using " + FallbackEncoding)
		enc = tiktokenEncoder{enc: tk}
	} else {
		log.Warn().Err(err).Str("model", model).Msg("Failed to load BPE encoding, using heuristic token estimate")
		enc = HeuristicEncoder{}
	}

	encoders[model] = enc

	return enc
}

// Counter counts prompt tokens the way chat completion APIs bill them
type Counter struct {
	encoder Encoder
}

func NewCounter(model string) *Counter {
	return &Counter{encoder: EncoderForModel(model)}
}

func NewCounterWithEncoder(encoder Encoder) *Counter {
	return &Counter{encoder: encoder}
}

// Count never fails. If encoding panics the result degrades to a quarter of
// the rendered message length.
func (c *Counter) Count(messages []types.Message) (total int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Token counting failed")
			total = len(fmt.Sprint(messages)) / 4
		}
	}()

	for _, message := range messages {
		total += messageOverhead

		total += c.encoder.Encode(message.Content)
		for _, part := range message.Parts {
			if part.Type == types.ContentPartText {
				total += c.encoder.Encode(part.Text)
			}
		}

		for _, toolCall := range message.ToolCalls {
			total += c.encoder.Encode(toolCall.Name)
			total += c.encoder.Encode(marshalArguments(toolCall.Arguments))
			total += toolCallOverhead
		}

		total += roleWeight
	}

	return total + ReplyPriming
}

// marshalArguments renders arguments as compact JSON keeping non-ASCII text
func marshalArguments(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}

	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(args); err != nil {
		return fmt.Sprint(args)
	}

	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
