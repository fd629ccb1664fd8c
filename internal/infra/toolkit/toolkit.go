// Package toolkit aggregates tool entries from dynamic sources into the
// flat registry an agent executes against.
package toolkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/toolsource"
)

// DynamicToolkit holds tool entries keyed by name, each tagged with the
// source it came from. It observes tool sources: a change on a source
// replaces exactly that source's entries.
type DynamicToolkit struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]domain.ToolEntry
}

// NewDynamicToolkit returns an empty toolkit.
func NewDynamicToolkit(log *zap.Logger) *DynamicToolkit {
	if log == nil {
		log = zap.NewNop()
	}
	return &DynamicToolkit{
		log:     log.Named("toolkit"),
		entries: make(map[string]domain.ToolEntry),
	}
}

// RegisterToolServer pulls the source's enabled tools and installs an entry
// per tool. Implements toolsource.Observer.
func (k *DynamicToolkit) RegisterToolServer(ctx context.Context, source toolsource.Source) error {
	tools, err := source.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools from %q: %w", source.Name(), err)
	}

	entries := make([]domain.ToolEntry, 0, len(tools))
	for _, tool := range tools {
		handler, err := source.CallableFunc(ctx, tool.Name)
		if err != nil {
			return fmt.Errorf("resolve handler for %q: %w", tool.Name, err)
		}
		entries = append(entries, domain.ToolEntry{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Source:      source.Name(),
			Handler:     handler,
		})
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeSourceLocked(source.Name())
	for _, entry := range entries {
		k.entries[entry.Name] = entry
	}
	k.log.Debug("tool server registered",
		zap.String("source", source.Name()),
		zap.Int("tools", len(entries)))
	return nil
}

// RemoveToolServer drops every entry tagged with the source name.
// Implements toolsource.Observer.
func (k *DynamicToolkit) RemoveToolServer(_ context.Context, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeSourceLocked(name)
	return nil
}

func (k *DynamicToolkit) removeSourceLocked(source string) {
	for name, entry := range k.entries {
		if entry.Source == source {
			delete(k.entries, name)
		}
	}
}

// Register adds a single entry. An existing entry with the same name is
// replaced.
func (k *DynamicToolkit) Register(entry domain.ToolEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[entry.Name] = entry
}

// Merge adds every entry of other that this toolkit does not already have.
// Existing entries win, so merging an agent's own tools into a managed
// toolkit never shadows the managed set.
func (k *DynamicToolkit) Merge(other domain.Toolkit) {
	if other == nil {
		return
	}
	incoming := other.Tools()
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, entry := range incoming {
		if _, exists := k.entries[entry.Name]; !exists {
			k.entries[entry.Name] = entry
		}
	}
}

// Tools returns the entries sorted by name.
func (k *DynamicToolkit) Tools() []domain.ToolEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]domain.ToolEntry, 0, len(k.entries))
	for _, entry := range k.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Handler looks up the handler for a tool name.
func (k *DynamicToolkit) Handler(name string) (domain.ToolHandler, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.entries[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, domain.ErrToolNotFound)
	}
	return entry.Handler, nil
}

// ToolInfos renders the entries for model binding.
func (k *DynamicToolkit) ToolInfos() []*schema.ToolInfo {
	tools := k.Tools()
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, entry := range tools {
		out = append(out, &schema.ToolInfo{
			Name: entry.Name,
			Desc: entry.Description,
		})
	}
	return out
}
