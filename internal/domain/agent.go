package domain

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Formatter converts local messages into the wire shape a chat model expects.
type Formatter interface {
	Format(ctx context.Context, sysPrompt string, msgs []Msg) ([]*schema.Message, error)
}

// Agent is the capability-injection surface the orchestrator manages.
// Attach substitutes the managed prompt, model, formatter and toolkit
// through these setters; detach restores the recorded originals. Reaching
// into agent internals is deliberately not part of the contract.
type Agent interface {
	Name() string

	SysPrompt() string
	SetSysPrompt(prompt string)

	Model() model.ToolCallingChatModel
	SetModel(m model.ToolCallingChatModel)

	Formatter() Formatter
	SetFormatter(f Formatter)

	Toolkit() Toolkit
	SetToolkit(tk Toolkit)

	// Reply processes the input messages and produces a response.
	Reply(ctx context.Context, msgs []Msg) (Msg, error)
	// Observe records messages without producing a response.
	Observe(ctx context.Context, msgs []Msg) error
}
