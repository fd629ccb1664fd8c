// Package registry defines the contract with the config and AI service
// plane and provides the implementations the bridge runs against: a
// connection pool, a file-backed local registry, and a snapshot cache for
// degraded starts.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/a2a"
)

// Listener receives configuration pushes for a (dataID, group) key.
type Listener interface {
	OnChange(ctx context.Context, dataID, group string, payload []byte)
}

// ListenerFunc adapts a function to the Listener interface. Function values
// are not comparable, so a ListenerFunc cannot be removed; components that
// need removal register a pointer-typed listener (see Subscription).
type ListenerFunc func(ctx context.Context, dataID, group string, payload []byte)

func (f ListenerFunc) OnChange(ctx context.Context, dataID, group string, payload []byte) {
	f(ctx, dataID, group, payload)
}

// listenerEqual compares listeners by identity without panicking on
// uncomparable implementations.
func listenerEqual(a, b Listener) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// ConfigService is the configuration plane: point reads plus push listeners.
// GetConfig returns (nil, nil) when the key is absent.
type ConfigService interface {
	GetConfig(ctx context.Context, dataID, group string) ([]byte, error)
	AddListener(ctx context.Context, dataID, group string, l Listener) error
	RemoveListener(ctx context.Context, dataID, group string, l Listener) error
}

// Endpoint is one backend address of a tool server.
type Endpoint struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Path     string `json:"path,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// URL renders the endpoint as a URL. Without an explicit protocol the
// scheme defaults to https when the port is 443 and http otherwise.
func (e Endpoint) URL() string {
	scheme := e.Protocol
	if scheme == "" {
		if e.Port == 443 {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	path := e.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, e.Address, e.Port, path)
}

// ToolSpec is the registry's description of one tool on a tool server.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolServerDetail is the registry document describing a tool server: its
// transport, backends, declared tools, and per-tool metadata overrides.
type ToolServerDetail struct {
	Name             string             `json:"name"`
	FrontProtocol    string             `json:"frontProtocol,omitempty"`
	BackendEndpoints []Endpoint         `json:"backendEndpoints,omitempty"`
	Tools            []ToolSpec         `json:"tools,omitempty"`
	ToolsMeta        domain.ToolMetaSet `json:"toolsMeta,omitempty"`
}

// AIService is the AI-native side of the registry: tool server documents,
// agent cards, and agent endpoint registration.
type AIService interface {
	GetToolServer(ctx context.Context, name string) (*ToolServerDetail, error)
	SubscribeToolServer(ctx context.Context, name string, fn func(*ToolServerDetail)) error
	GetAgentCard(ctx context.Context, name, version string) (*a2a.AgentCard, error)
	SubscribeAgentCard(ctx context.Context, name, version string, fn func(*a2a.AgentCard)) error
	RegisterAgentEndpoint(ctx context.Context, reg a2a.EndpointRegistration) error
	ReleaseAgentCard(ctx context.Context, name, version string) error
}
