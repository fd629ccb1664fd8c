package einoagent

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/chatmodel"
	"agentbridge/internal/infra/toolkit"
)

// scriptedModel returns its responses in order, then repeats the last one.
type scriptedModel struct {
	responses []*schema.Message
	requests  [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.requests = append(m.requests, in)
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func TestAgentPlainReply(t *testing.T) {
	ctx := context.Background()
	m := &scriptedModel{responses: []*schema.Message{schema.AssistantMessage("hello there", nil)}}

	a, err := New("greeter",
		WithSysPrompt("be friendly"),
		WithModel(m),
		WithFormatter(chatmodel.OpenAIFormatter{}))
	require.NoError(t, err)

	reply, err := a.Reply(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "hi")})
	require.NoError(t, err)
	require.Equal(t, "hello there", reply.Text())
	require.Equal(t, domain.RoleAssistant, reply.Role)

	// System prompt travels with every request.
	require.Equal(t, schema.System, m.requests[0][0].Role)
	require.Equal(t, "be friendly", m.requests[0][0].Content)
}

func TestAgentToolCallingLoop(t *testing.T) {
	ctx := context.Background()

	kit := toolkit.NewDynamicToolkit(nil)
	kit.Register(domain.ToolEntry{
		Name:        "calc",
		Description: "evaluates arithmetic",
		Handler: func(_ context.Context, args []byte) ([]byte, error) {
			require.JSONEq(t, `{"expr":"6*7"}`, string(args))
			return []byte("42"), nil
		},
	})

	m := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "calc", Arguments: `{"expr":"6*7"}`},
		}}),
		schema.AssistantMessage("the answer is 42", nil),
	}}

	a, err := New("solver",
		WithModel(m),
		WithFormatter(chatmodel.OpenAIFormatter{}),
		WithToolkit(kit))
	require.NoError(t, err)

	reply, err := a.Reply(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "what is 6*7?")})
	require.NoError(t, err)
	require.Equal(t, "the answer is 42", reply.Text())

	// The second request carries the tool result back to the model.
	second := m.requests[1]
	last := second[len(second)-1]
	require.Equal(t, schema.Tool, last.Role)
	require.Equal(t, "42", last.Content)
	require.Equal(t, "call-1", last.ToolCallID)
}

func TestAgentToolFailureFeedsErrorBack(t *testing.T) {
	ctx := context.Background()

	kit := toolkit.NewDynamicToolkit(nil)
	kit.Register(domain.ToolEntry{
		Name: "flaky",
		Handler: func(context.Context, []byte) ([]byte, error) {
			return nil, context.DeadlineExceeded
		},
	})

	m := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "flaky", Arguments: `{}`},
		}}),
		schema.AssistantMessage("could not compute", nil),
	}}

	a, err := New("solver", WithModel(m), WithFormatter(chatmodel.OpenAIFormatter{}), WithToolkit(kit))
	require.NoError(t, err)

	reply, err := a.Reply(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "go")})
	require.NoError(t, err, "tool failure must not fail the reply")
	require.Equal(t, "could not compute", reply.Text())

	second := m.requests[1]
	last := second[len(second)-1]
	require.Contains(t, last.Content, "tool error")
}

func TestAgentTurnCap(t *testing.T) {
	ctx := context.Background()

	kit := toolkit.NewDynamicToolkit(nil)
	kit.Register(domain.ToolEntry{
		Name:    "loop",
		Handler: func(context.Context, []byte) ([]byte, error) { return []byte("again"), nil },
	})

	// The model never stops asking for the tool.
	m := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-n",
			Function: schema.FunctionCall{Name: "loop", Arguments: `{}`},
		}}),
	}}

	a, err := New("looper", WithModel(m), WithFormatter(chatmodel.OpenAIFormatter{}), WithToolkit(kit), WithMaxTurns(3))
	require.NoError(t, err)

	_, err = a.Reply(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, "go")})
	require.ErrorContains(t, err, "no final answer")
	require.Len(t, m.requests, 3)
}

func TestAgentWithoutModelOrFormatter(t *testing.T) {
	ctx := context.Background()

	a, err := New("bare")
	require.NoError(t, err)
	_, err = a.Reply(ctx, nil)
	require.ErrorContains(t, err, "no model")

	a2, err := New("half", WithModel(&scriptedModel{responses: []*schema.Message{schema.AssistantMessage("x", nil)}}))
	require.NoError(t, err)
	_, err = a2.Reply(ctx, nil)
	require.ErrorContains(t, err, "no formatter")
}
