package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotInitialized is returned when attach/detach or getters are called
	// before a component finished its initialization.
	ErrNotInitialized = errors.New("not initialized")

	// ErrConfigNotFound indicates a required registry payload is absent.
	ErrConfigNotFound = errors.New("config not found")

	// ErrToolNotFound indicates a tool is absent or disabled. Callers cannot
	// distinguish the two cases.
	ErrToolNotFound = errors.New("tool not found")

	// ErrMissingModelName indicates a model spec without a model name.
	ErrMissingModelName = errors.New("modelName is required")

	// ErrNoResponse indicates a remote agent produced an empty response
	// stream.
	ErrNoResponse = errors.New("no response received from remote agent")
)

// ConfigError wraps a failure with enough context to locate the offending
// registry entry.
type ConfigError struct {
	DataID string
	Group  string
	Agent  string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s/%s (agent %q): %v", e.Group, e.DataID, e.Agent, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnknownProviderError rejects a model spec with an unsupported provider tag.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown model provider %q", e.Provider)
}

// PartialInitError aggregates per-component initialization outcomes. A
// degraded orchestrator (for example working tools but failed prompt) is a
// valid state; this error reports exactly which parts failed.
type PartialInitError struct {
	Succeeded []string
	Failed    map[string]error
}

func (e *PartialInitError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}
	return fmt.Sprintf("partial initialization (ok: %s): %s",
		strings.Join(e.Succeeded, ","), strings.Join(parts, "; "))
}
