// Package einoagent is a small tool-calling agent on top of the eino chat
// model abstraction. Its prompt, model, formatter, and toolkit are all
// swappable at runtime, which is what the orchestrator relies on.
package einoagent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentbridge/internal/domain"
)

const defaultMaxTurns = 10

// Agent keeps a linear conversation memory and answers by looping the model
// until it stops asking for tools.
type Agent struct {
	log      *zap.Logger
	maxTurns int

	mu        sync.RWMutex
	name      string
	sysPrompt string
	model     model.ToolCallingChatModel
	formatter domain.Formatter
	kit       domain.Toolkit
	memory    []domain.Msg
}

// Option configures an Agent.
type Option func(*Agent)

// WithSysPrompt sets the initial system prompt.
func WithSysPrompt(prompt string) Option {
	return func(a *Agent) { a.sysPrompt = prompt }
}

// WithModel sets the initial chat model.
func WithModel(m model.ToolCallingChatModel) Option {
	return func(a *Agent) { a.model = m }
}

// WithFormatter sets the initial formatter.
func WithFormatter(f domain.Formatter) Option {
	return func(a *Agent) { a.formatter = f }
}

// WithToolkit sets the initial toolkit.
func WithToolkit(k domain.Toolkit) Option {
	return func(a *Agent) { a.kit = k }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithMaxTurns caps the tool-calling loop.
func WithMaxTurns(n int) Option {
	return func(a *Agent) { a.maxTurns = n }
}

// New builds an agent with the given name.
func New(name string, opts ...Option) (*Agent, error) {
	name, err := domain.ValidateAgentName(name)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		name:     name,
		log:      zap.NewNop(),
		maxTurns: defaultMaxTurns,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Named("agent").With(zap.String("name", name))
	return a, nil
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) SysPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sysPrompt
}

func (a *Agent) SetSysPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sysPrompt = prompt
}

func (a *Agent) Model() model.ToolCallingChatModel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

func (a *Agent) SetModel(m model.ToolCallingChatModel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = m
}

func (a *Agent) Formatter() domain.Formatter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.formatter
}

func (a *Agent) SetFormatter(f domain.Formatter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.formatter = f
}

func (a *Agent) Toolkit() domain.Toolkit {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.kit
}

func (a *Agent) SetToolkit(k domain.Toolkit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kit = k
}

// Observe appends messages to memory without generating a reply.
func (a *Agent) Observe(_ context.Context, msgs []domain.Msg) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, msgs...)
	return nil
}

// snapshot captures the mutable pieces once per reply so a mid-reply config
// swap cannot mix providers or prompts within one turn.
func (a *Agent) snapshot() (string, model.ToolCallingChatModel, domain.Formatter, domain.Toolkit, []domain.Msg) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	memory := append([]domain.Msg(nil), a.memory...)
	return a.sysPrompt, a.model, a.formatter, a.kit, memory
}

// Reply runs the tool-calling loop: generate, execute requested tools, feed
// results back, until the model answers without tool calls.
func (a *Agent) Reply(ctx context.Context, msgs []domain.Msg) (domain.Msg, error) {
	if err := a.Observe(ctx, msgs); err != nil {
		return domain.Msg{}, err
	}
	sysPrompt, chatModel, formatter, kit, memory := a.snapshot()
	if chatModel == nil {
		return domain.Msg{}, errors.New("agent has no model")
	}
	if formatter == nil {
		return domain.Msg{}, errors.New("agent has no formatter")
	}

	boundModel := chatModel
	if kit != nil {
		if infos := toolInfos(kit); len(infos) > 0 {
			bound, err := chatModel.WithTools(infos)
			if err != nil {
				return domain.Msg{}, fmt.Errorf("bind tools: %w", err)
			}
			boundModel = bound
		}
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		formatted, err := formatter.Format(ctx, sysPrompt, memory)
		if err != nil {
			return domain.Msg{}, fmt.Errorf("format conversation: %w", err)
		}
		out, err := boundModel.Generate(ctx, formatted)
		if err != nil {
			return domain.Msg{}, fmt.Errorf("generate: %w", err)
		}

		if len(out.ToolCalls) == 0 {
			reply := domain.TextMsg(a.name, domain.RoleAssistant, out.Content)
			a.remember(reply)
			return reply, nil
		}

		assistantMsg := toolUseMsg(a.name, out)
		memory = append(memory, assistantMsg)
		a.remember(assistantMsg)

		resultMsg, err := a.runTools(ctx, kit, out.ToolCalls)
		if err != nil {
			return domain.Msg{}, err
		}
		memory = append(memory, resultMsg)
		a.remember(resultMsg)
	}
	return domain.Msg{}, fmt.Errorf("no final answer after %d turns", a.maxTurns)
}

func (a *Agent) remember(msg domain.Msg) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, msg)
}

func (a *Agent) runTools(ctx context.Context, kit domain.Toolkit, calls []schema.ToolCall) (domain.Msg, error) {
	if kit == nil {
		return domain.Msg{}, errors.New("model requested tools but agent has no toolkit")
	}
	msg := domain.Msg{Name: a.name, Role: domain.RoleUser}
	for _, call := range calls {
		output := a.runTool(ctx, kit, call)
		msg.Blocks = append(msg.Blocks, domain.ContentBlock{
			Kind:      domain.BlockToolResult,
			ToolUseID: call.ID,
			ToolName:  call.Function.Name,
			Output:    output,
		})
	}
	return msg, nil
}

// runTool never fails the reply: a broken tool reports its error back to
// the model as the tool result.
func (a *Agent) runTool(ctx context.Context, kit domain.Toolkit, call schema.ToolCall) string {
	handler, err := kit.Handler(call.Function.Name)
	if err != nil {
		return fmt.Sprintf("tool error: %v", err)
	}
	out, err := handler(ctx, []byte(call.Function.Arguments))
	if err != nil {
		a.log.Warn("tool execution failed",
			zap.String("tool", call.Function.Name),
			zap.Error(err))
		return fmt.Sprintf("tool error: %v", err)
	}
	return string(out)
}

func toolUseMsg(name string, out *schema.Message) domain.Msg {
	msg := domain.Msg{Name: name, Role: domain.RoleAssistant}
	if out.Content != "" {
		msg.Blocks = append(msg.Blocks, domain.ContentBlock{Kind: domain.BlockText, Text: out.Content})
	}
	for _, call := range out.ToolCalls {
		msg.Blocks = append(msg.Blocks, domain.ContentBlock{
			Kind:      domain.BlockToolUse,
			ToolUseID: call.ID,
			ToolName:  call.Function.Name,
			Input:     []byte(call.Function.Arguments),
		})
	}
	return msg
}

func toolInfos(kit domain.Toolkit) []*schema.ToolInfo {
	tools := kit.Tools()
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, entry := range tools {
		out = append(out, &schema.ToolInfo{Name: entry.Name, Desc: entry.Description})
	}
	return out
}
