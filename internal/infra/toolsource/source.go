// Package toolsource exposes one named remote MCP tool server as a dynamic
// tool provider: the tool list and per-tool metadata follow registry pushes,
// and attached observers are told to re-pull when something changes.
package toolsource

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/registry"
	"agentbridge/internal/infra/syncx"
)

// ToolServerService is the slice of the registry AI service this package
// needs.
type ToolServerService interface {
	GetToolServer(ctx context.Context, name string) (*registry.ToolServerDetail, error)
	SubscribeToolServer(ctx context.Context, name string, fn func(*registry.ToolServerDetail)) error
}

// Source is the provider surface observers pull from.
type Source interface {
	Name() string
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallableFunc(ctx context.Context, name string) (domain.ToolHandler, error)
}

// Observer is told to drop and re-pull a source's tools after its tool set
// changed.
type Observer interface {
	RegisterToolServer(ctx context.Context, source Source) error
	RemoveToolServer(ctx context.Context, name string) error
}

// Transports accepted from the registry detail document.
const (
	transportSSE        = "mcp-sse"
	transportStreamable = "mcp-streamable"
)

// ToolSource mirrors one tool server from the registry. Tool metadata from
// the detail document overrides what the server itself reports, and a tool
// disabled by metadata is indistinguishable from one that does not exist.
type ToolSource struct {
	name    string
	svc     ToolServerService
	dial    Dialer
	guard   *syncx.InitGuard
	metrics domain.Metrics
	log     *zap.Logger

	mu     sync.Mutex
	detail *registry.ToolServerDetail
	tools  []*mcp.Tool
	meta   domain.ToolMetaSet

	obsMu     sync.Mutex
	observers []Observer
	notifying bool
}

// SourceOption configures a ToolSource.
type SourceOption func(*ToolSource)

// WithSourceMetrics sets the metrics sink.
func WithSourceMetrics(metrics domain.Metrics) SourceOption {
	return func(s *ToolSource) { s.metrics = metrics }
}

// WithSourceLogger sets the logger.
func WithSourceLogger(log *zap.Logger) SourceOption {
	return func(s *ToolSource) { s.log = log }
}

// NewToolSource binds the named tool server on svc, dialing MCP sessions
// through dial.
func NewToolSource(name string, svc ToolServerService, dial Dialer, opts ...SourceOption) *ToolSource {
	s := &ToolSource{
		name:    name,
		svc:     svc,
		dial:    dial,
		guard:   syncx.NewInitGuard(),
		metrics: domain.NopMetrics{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("tool_source").With(zap.String("server", name))
	return s
}

// Name returns the tool server name.
func (s *ToolSource) Name() string { return s.name }

// EnsureInitialized fetches the detail document and subscribes to changes.
func (s *ToolSource) EnsureInitialized(ctx context.Context) error {
	return s.guard.Ensure(ctx, s.init)
}

func (s *ToolSource) init(ctx context.Context) error {
	detail, err := s.svc.GetToolServer(ctx, s.name)
	if err != nil {
		return fmt.Errorf("fetch tool server %q: %w", s.name, err)
	}
	if detail == nil {
		return fmt.Errorf("tool server %q not found in registry", s.name)
	}
	if err := checkTransport(detail.FrontProtocol); err != nil {
		return err
	}

	s.mu.Lock()
	s.detail = detail
	s.meta = detail.ToolsMeta
	s.mu.Unlock()

	if err := s.svc.SubscribeToolServer(ctx, s.name, s.onDetail); err != nil {
		return fmt.Errorf("subscribe tool server %q: %w", s.name, err)
	}
	s.log.Info("tool source initialized", zap.String("transport", detail.FrontProtocol))
	return nil
}

func checkTransport(frontProtocol string) error {
	switch frontProtocol {
	case transportSSE, transportStreamable, "":
		return nil
	}
	return fmt.Errorf("unsupported tool server transport %q", frontProtocol)
}

// onDetail applies a pushed detail document. Observers are notified only
// when the effective tool set actually changed.
func (s *ToolSource) onDetail(detail *registry.ToolServerDetail) {
	if detail == nil {
		return
	}
	changed := s.updateTools(detail)
	if !changed {
		s.metrics.ObserveConfigUpdate("tools", domain.UpdateResultRejected)
		return
	}
	s.metrics.ObserveConfigUpdate("tools", domain.UpdateResultApplied)

	s.obsMu.Lock()
	hasObservers := len(s.observers) > 0
	s.obsMu.Unlock()
	if hasObservers {
		go s.notifyObservers(context.Background())
	}
}

// updateTools diffs the incoming metadata against the cached set before
// committing it, then folds description overrides into the cached tools.
func (s *ToolSource) updateTools(detail *registry.ToolServerDetail) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := !s.meta.Equal(detail.ToolsMeta)
	s.detail = detail
	s.meta = detail.ToolsMeta
	s.applyMetaLocked()
	return changed
}

// applyMetaLocked overlays registry descriptions onto the cached tools.
func (s *ToolSource) applyMetaLocked() {
	if len(s.tools) == 0 {
		return
	}
	specs := make(map[string]registry.ToolSpec)
	if s.detail != nil {
		for _, spec := range s.detail.Tools {
			specs[spec.Name] = spec
		}
	}
	for _, tool := range s.tools {
		if meta, ok := s.meta[tool.Name]; ok && meta.Description != "" {
			tool.Description = meta.Description
		} else if spec, ok := specs[tool.Name]; ok && spec.Description != "" {
			tool.Description = spec.Description
		}
		if spec, ok := specs[tool.Name]; ok {
			tool.InputSchema = syncSchemaDescriptions(tool.InputSchema, spec.InputSchema)
		}
	}
}

// syncSchemaDescriptions copies per-argument descriptions from the registry
// schema onto the server-reported schema. Only the plain-map shape is
// handled; anything else is returned untouched.
func syncSchemaDescriptions(dst any, src map[string]any) any {
	dstMap, ok := dst.(map[string]any)
	if !ok || src == nil {
		return dst
	}
	srcProps, ok := src["properties"].(map[string]any)
	if !ok {
		return dst
	}
	dstProps, ok := dstMap["properties"].(map[string]any)
	if !ok {
		return dst
	}
	for name, rawSrc := range srcProps {
		srcProp, ok := rawSrc.(map[string]any)
		if !ok {
			continue
		}
		desc, ok := srcProp["description"].(string)
		if !ok || desc == "" {
			continue
		}
		if dstProp, ok := dstProps[name].(map[string]any); ok {
			dstProp["description"] = desc
		}
	}
	return dstMap
}

// pickEndpoint selects a random backend endpoint URL.
func (s *ToolSource) pickEndpoint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detail == nil || len(s.detail.BackendEndpoints) == 0 {
		return "", fmt.Errorf("tool server %q has no backend endpoints", s.name)
	}
	ep := s.detail.BackendEndpoints[rand.Intn(len(s.detail.BackendEndpoints))]
	return ep.URL(), nil
}

// ListTools fetches the tool list from a backend, caches it, applies
// registry metadata, and returns only the enabled tools.
func (s *ToolSource) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	if err := s.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	endpoint, err := s.pickEndpoint()
	if err != nil {
		return nil, err
	}
	session, err := s.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial tool server %q: %w", s.name, err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools on %q: %w", s.name, err)
	}

	s.mu.Lock()
	s.tools = tools
	s.applyMetaLocked()
	enabled := s.enabledLocked()
	s.mu.Unlock()
	return enabled, nil
}

func (s *ToolSource) enabledLocked() []*mcp.Tool {
	out := make([]*mcp.Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		if s.meta.Enabled(tool.Name) {
			out = append(out, tool)
		}
	}
	return out
}

// IsToolEnabled reports whether metadata allows the tool. Tools without
// metadata count as enabled.
func (s *ToolSource) IsToolEnabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Enabled(name)
}

// CallableFunc returns a handler invoking the named tool. A disabled tool
// behaves exactly like a missing one.
func (s *ToolSource) CallableFunc(ctx context.Context, name string) (domain.ToolHandler, error) {
	if err := s.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := len(s.tools)
	s.mu.Unlock()
	if cached == 0 {
		if _, err := s.ListTools(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	known := false
	for _, tool := range s.tools {
		if tool.Name == name {
			known = true
			break
		}
	}
	enabled := s.meta.Enabled(name)
	s.mu.Unlock()
	if !known || !enabled {
		return nil, fmt.Errorf("tool %q on server %q: %w", name, s.name, domain.ErrToolNotFound)
	}

	return func(ctx context.Context, args []byte) ([]byte, error) {
		endpoint, err := s.pickEndpoint()
		if err != nil {
			return nil, err
		}
		session, err := s.dial(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("dial tool server %q: %w", s.name, err)
		}
		defer session.Close()

		result, err := session.CallTool(ctx, name, json.RawMessage(args))
		if err != nil {
			return nil, fmt.Errorf("call tool %q on %q: %w", name, s.name, err)
		}
		text := contentText(result.Content)
		if result.IsError {
			return nil, fmt.Errorf("tool %q failed: %s", name, text)
		}
		return []byte(text), nil
	}, nil
}

func contentText(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// Attach registers an observer for tool set changes.
func (s *ToolSource) Attach(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Detach removes a previously attached observer. Detaching an unknown
// observer is a no-op.
func (s *ToolSource) Detach(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for i, cur := range s.observers {
		if observerEqual(cur, o) {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

func observerEqual(a, b Observer) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// notifyObservers walks a snapshot of the observer set, removing and then
// re-registering this source on each one. The notifying flag suppresses
// re-entrant notification storms triggered from observer callbacks.
func (s *ToolSource) notifyObservers(ctx context.Context) {
	s.obsMu.Lock()
	if s.notifying {
		s.obsMu.Unlock()
		return
	}
	s.notifying = true
	snapshot := append([]Observer(nil), s.observers...)
	s.obsMu.Unlock()

	defer func() {
		s.obsMu.Lock()
		s.notifying = false
		s.obsMu.Unlock()
	}()

	for _, o := range snapshot {
		if err := o.RemoveToolServer(ctx, s.name); err != nil {
			s.log.Warn("observer remove failed", zap.Error(err))
		}
		if err := o.RegisterToolServer(ctx, s); err != nil {
			s.log.Warn("observer register failed", zap.Error(err))
		}
	}
	s.metrics.ObserveToolNotify(s.name, len(snapshot))
	s.log.Debug("observers notified", zap.Int("count", len(snapshot)))
}
