package chatmodel

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"agentbridge/internal/domain"
)

// ProviderTagger exposes the active provider tag. Satisfied by
// ConfigurableChatModel.
type ProviderTagger interface {
	Provider() string
}

// OpenAIFormatter renders conversation messages into the OpenAI-style
// message list: system prompt first, tool calls on assistant messages, tool
// results as tool-role messages.
type OpenAIFormatter struct{}

func (OpenAIFormatter) Format(_ context.Context, sysPrompt string, msgs []domain.Msg) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(msgs)+1)
	if sysPrompt != "" {
		out = append(out, schema.SystemMessage(sysPrompt))
	}
	for _, msg := range msgs {
		out = append(out, formatMsg(msg)...)
	}
	return out, nil
}

func formatMsg(msg domain.Msg) []*schema.Message {
	var (
		text      strings.Builder
		toolCalls []schema.ToolCall
		toolMsgs  []*schema.Message
	)
	for _, block := range msg.Blocks {
		switch block.Kind {
		case domain.BlockText:
			text.WriteString(block.Text)
		case domain.BlockThinking:
			// Reasoning content is not replayed to the provider.
		case domain.BlockToolUse:
			toolCalls = append(toolCalls, schema.ToolCall{
				ID: block.ToolUseID,
				Function: schema.FunctionCall{
					Name:      block.ToolName,
					Arguments: string(block.Input),
				},
			})
		case domain.BlockToolResult:
			toolMsgs = append(toolMsgs, schema.ToolMessage(block.Output, block.ToolUseID))
		case domain.BlockMedia:
			if block.URL != "" {
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(block.URL)
			}
		}
	}

	var out []*schema.Message
	switch msg.Role {
	case domain.RoleSystem:
		out = append(out, schema.SystemMessage(text.String()))
	case domain.RoleAssistant:
		if text.Len() > 0 || len(toolCalls) > 0 {
			out = append(out, schema.AssistantMessage(text.String(), toolCalls))
		}
	default:
		if text.Len() > 0 {
			out = append(out, schema.UserMessage(text.String()))
		}
	}
	return append(out, toolMsgs...)
}

// AutoFormatter picks a formatter by the active provider tag, defaulting to
// the OpenAI formatter for unknown tags. DashScope and Ollama speak the
// OpenAI dialect here, so all built-in tags share one formatter until a
// provider needs its own.
type AutoFormatter struct {
	tagger     ProviderTagger
	formatters map[string]domain.Formatter
	fallback   domain.Formatter
}

// NewAutoFormatter returns a formatter bound to the tagger's provider.
func NewAutoFormatter(tagger ProviderTagger) *AutoFormatter {
	openai := OpenAIFormatter{}
	return &AutoFormatter{
		tagger: tagger,
		formatters: map[string]domain.Formatter{
			ProviderOpenAI:    openai,
			ProviderDashScope: openai,
			ProviderOllama:    openai,
		},
		fallback: openai,
	}
}

// Register installs a formatter for a provider tag.
func (f *AutoFormatter) Register(provider string, formatter domain.Formatter) {
	f.formatters[provider] = formatter
}

func (f *AutoFormatter) Format(ctx context.Context, sysPrompt string, msgs []domain.Msg) ([]*schema.Message, error) {
	formatter, ok := f.formatters[f.tagger.Provider()]
	if !ok {
		formatter = f.fallback
	}
	return formatter.Format(ctx, sysPrompt, msgs)
}
