package domain

import "context"

// ToolMeta carries the per-tool metadata a registry publishes alongside a
// tool server: an optional enabled flag and a description override. A nil
// Enabled pointer means "not specified", which counts as enabled.
type ToolMeta struct {
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// ToolMetaSet maps tool names to their registry metadata. Tool names are
// unique within one tool source.
type ToolMetaSet map[string]ToolMeta

// Enabled reports whether the named tool is enabled. Missing entries and
// entries without an explicit flag are enabled.
func (s ToolMetaSet) Enabled(name string) bool {
	if s == nil {
		return true
	}
	meta, ok := s[name]
	if !ok || meta.Enabled == nil {
		return true
	}
	return *meta.Enabled
}

// Equal compares two metadata sets field by field. A changed tool count, a
// flipped enabled flag, or changed description text all count as a
// difference.
func (s ToolMetaSet) Equal(other ToolMetaSet) bool {
	if len(s) != len(other) {
		return false
	}
	for name, meta := range s {
		o, ok := other[name]
		if !ok {
			return false
		}
		if meta.Description != o.Description {
			return false
		}
		if (meta.Enabled == nil) != (o.Enabled == nil) {
			return false
		}
		if meta.Enabled != nil && *meta.Enabled != *o.Enabled {
			return false
		}
	}
	return true
}

// ToolHandler executes one tool call with JSON-encoded arguments and returns
// the JSON-encoded result.
type ToolHandler func(ctx context.Context, args []byte) ([]byte, error)

// ToolEntry is one invocable tool held by a toolkit. Source names the tool
// server the entry came from; entries added directly by callers have an
// empty source.
type ToolEntry struct {
	Name        string
	Description string
	InputSchema any
	Source      string
	Handler     ToolHandler
}

// Toolkit is the tool registry surface an agent consumes.
type Toolkit interface {
	// Tools returns a snapshot of the registered entries.
	Tools() []ToolEntry
	// Handler resolves the named tool. Absent and disabled tools are
	// indistinguishable: both yield ErrToolNotFound.
	Handler(name string) (ToolHandler, error)
}
