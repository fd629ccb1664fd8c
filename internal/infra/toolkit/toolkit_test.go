package toolkit

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"agentbridge/internal/domain"
)

// fakeSource satisfies toolsource.Source.
type fakeSource struct {
	name    string
	tools   []*mcp.Tool
	listErr error
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) ListTools(context.Context) ([]*mcp.Tool, error) {
	return s.tools, s.listErr
}

func (s *fakeSource) CallableFunc(_ context.Context, name string) (domain.ToolHandler, error) {
	return func(context.Context, []byte) ([]byte, error) {
		return []byte("from " + s.name + "/" + name), nil
	}, nil
}

func TestDynamicToolkitRegisterAndCall(t *testing.T) {
	ctx := context.Background()
	k := NewDynamicToolkit(nil)

	src := &fakeSource{name: "search", tools: []*mcp.Tool{
		{Name: "web", Description: "web search"},
		{Name: "news", Description: "news search"},
	}}
	require.NoError(t, k.RegisterToolServer(ctx, src))

	tools := k.Tools()
	require.Len(t, tools, 2)
	require.Equal(t, "news", tools[0].Name, "tools sorted by name")
	require.Equal(t, "search", tools[0].Source)

	handler, err := k.Handler("web")
	require.NoError(t, err)
	out, err := handler(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "from search/web", string(out))
}

func TestDynamicToolkitReRegisterReplacesSourceEntries(t *testing.T) {
	ctx := context.Background()
	k := NewDynamicToolkit(nil)

	src := &fakeSource{name: "search", tools: []*mcp.Tool{{Name: "web"}, {Name: "news"}}}
	require.NoError(t, k.RegisterToolServer(ctx, src))

	src.tools = []*mcp.Tool{{Name: "web"}}
	require.NoError(t, k.RegisterToolServer(ctx, src))

	tools := k.Tools()
	require.Len(t, tools, 1)
	require.Equal(t, "web", tools[0].Name)
}

func TestDynamicToolkitRemoveToolServer(t *testing.T) {
	ctx := context.Background()
	k := NewDynamicToolkit(nil)

	require.NoError(t, k.RegisterToolServer(ctx, &fakeSource{name: "a", tools: []*mcp.Tool{{Name: "x"}}}))
	require.NoError(t, k.RegisterToolServer(ctx, &fakeSource{name: "b", tools: []*mcp.Tool{{Name: "y"}}}))

	require.NoError(t, k.RemoveToolServer(ctx, "a"))
	tools := k.Tools()
	require.Len(t, tools, 1)
	require.Equal(t, "y", tools[0].Name)

	_, err := k.Handler("x")
	require.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestDynamicToolkitListFailureLeavesEntriesIntact(t *testing.T) {
	ctx := context.Background()
	k := NewDynamicToolkit(nil)

	src := &fakeSource{name: "search", tools: []*mcp.Tool{{Name: "web"}}}
	require.NoError(t, k.RegisterToolServer(ctx, src))

	src.listErr = errors.New("backend down")
	require.Error(t, k.RegisterToolServer(ctx, src))
	require.Len(t, k.Tools(), 1, "failed refresh must not wipe the previous entries")
}

func TestDynamicToolkitMergeIsAdditive(t *testing.T) {
	ctx := context.Background()
	managed := NewDynamicToolkit(nil)
	require.NoError(t, managed.RegisterToolServer(ctx, &fakeSource{name: "search", tools: []*mcp.Tool{{Name: "web", Description: "managed"}}}))

	own := NewDynamicToolkit(nil)
	own.Register(domain.ToolEntry{Name: "web", Description: "agent-local", Source: "local"})
	own.Register(domain.ToolEntry{Name: "memo", Description: "take notes", Source: "local"})

	managed.Merge(own)
	tools := managed.Tools()
	require.Len(t, tools, 2)
	require.Equal(t, "managed", tools[1].Description, "existing entry wins on name clash")

	managed.Merge(nil)
	require.Len(t, managed.Tools(), 2)
}

func TestDynamicToolkitToolInfos(t *testing.T) {
	k := NewDynamicToolkit(nil)
	k.Register(domain.ToolEntry{Name: "web", Description: "web search"})

	infos := k.ToolInfos()
	require.Len(t, infos, 1)
	require.Equal(t, "web", infos[0].Name)
	require.Equal(t, "web search", infos[0].Desc)
}
