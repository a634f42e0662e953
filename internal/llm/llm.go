// Package llm backs specialists with the Anthropic Messages API. Each
// specialist gets its own invoker carrying its model, temperature and
// system prompt.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mtzanidakis/maestros/internal/specialist"
)

const defaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

// Invoker sends a specialist's tasks to the Messages API.
type Invoker struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	cfg       specialist.ModelConfig
}

func New(apiKey string, maxTokens int64, cfg specialist.ModelConfig) *Invoker {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Invoker{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		cfg:       cfg,
	}
}

func (i *Invoker) Invoke(ctx context.Context, task string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(i.model),
		MaxTokens: i.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(task)),
		},
	}
	if i.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: i.cfg.SystemPrompt}}
	}
	if i.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(i.cfg.Temperature)
	}

	msg, err := i.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("messages api: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty completion from %s", i.model)
	}

	slog.Debug("completion", "model", i.model,
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens)
	return sb.String(), nil
}
