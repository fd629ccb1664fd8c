package toolsource

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPSession is the slice of an MCP client session the source uses.
type MCPSession interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens an MCP session against a backend endpoint URL.
type Dialer func(ctx context.Context, endpoint string) (MCPSession, error)

// DialStreamable returns a Dialer speaking streamable HTTP through the
// given client. A nil client uses http.DefaultClient.
func DialStreamable(httpClient *http.Client) Dialer {
	return func(ctx context.Context, endpoint string) (MCPSession, error) {
		client := mcp.NewClient(&mcp.Implementation{Name: "agentbridge", Version: "1.0.0"}, nil)
		transport := &mcp.StreamableClientTransport{
			Endpoint:   endpoint,
			HTTPClient: httpClient,
			MaxRetries: 3,
		}
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, err
		}
		return &sdkSession{session: session}, nil
	}
}

type sdkSession struct {
	session *mcp.ClientSession
}

func (s *sdkSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	return s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}
