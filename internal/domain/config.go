package domain

import (
	"encoding/json"
	"fmt"
)

// Registry data ids and groups for agent configuration, by convention.
const (
	DataIDModel       = "model.json"
	DataIDPrompt      = "prompt.json"
	DataIDToolServers = "mcp-server.json"

	// GroupPromptTemplates is the shared group holding referenced prompt
	// template documents.
	GroupPromptTemplates = "nacos-ai-prompt"

	agentGroupPrefix = "ai-agent-"
)

// AgentGroup returns the registry group holding one agent's configuration.
func AgentGroup(agentName string) string {
	return agentGroupPrefix + agentName
}

// ModelSpec is the decoded payload of model.json. Immutable once decoded;
// configuration updates produce a fresh ModelSpec rather than mutating one.
type ModelSpec struct {
	ModelName     string         `json:"modelName"`
	APIKey        string         `json:"apiKey,omitempty"`
	ModelProvider string         `json:"modelProvider,omitempty"`
	BaseURL       string         `json:"baseUrl,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
}

// ParseModelSpec decodes and validates a model.json payload.
func ParseModelSpec(payload []byte) (ModelSpec, error) {
	var spec ModelSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return ModelSpec{}, fmt.Errorf("decode model spec: %w", err)
	}
	if spec.ModelName == "" {
		return ModelSpec{}, fmt.Errorf("model spec: %w", ErrMissingModelName)
	}
	if spec.ModelProvider == "" {
		spec.ModelProvider = "openai"
	}
	return spec, nil
}

// PromptSpec is the decoded payload of prompt.json. Either PromptRef points
// at a PromptTemplate document in GroupPromptTemplates, or Prompt carries the
// template inline.
type PromptSpec struct {
	PromptRef string `json:"promptRef,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// HasRef reports whether the spec references an external template.
func (s PromptSpec) HasRef() bool { return s.PromptRef != "" }

// HasInline reports whether the spec carries an inline template.
func (s PromptSpec) HasInline() bool { return s.Prompt != "" }

// ParsePromptSpec decodes a prompt.json payload.
func ParsePromptSpec(payload []byte) (PromptSpec, error) {
	var spec PromptSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return PromptSpec{}, fmt.Errorf("decode prompt spec: %w", err)
	}
	return spec, nil
}

// PromptTemplate is the decoded payload of a referenced prompt document.
type PromptTemplate struct {
	Template string `json:"template"`
}

// ParsePromptTemplate decodes a referenced prompt template payload.
func ParsePromptTemplate(payload []byte) (PromptTemplate, error) {
	var tpl PromptTemplate
	if err := json.Unmarshal(payload, &tpl); err != nil {
		return PromptTemplate{}, fmt.Errorf("decode prompt template: %w", err)
	}
	return tpl, nil
}

// ToolServerRef names one remote tool server an agent uses.
type ToolServerRef struct {
	Name string `json:"mcpServerName"`
}

// ToolServerList is the decoded payload of mcp-server.json.
type ToolServerList struct {
	Servers []ToolServerRef `json:"mcpServers"`
}

// ParseToolServerList decodes an mcp-server.json payload. Entries with empty
// names are dropped.
func ParseToolServerList(payload []byte) (ToolServerList, error) {
	var list ToolServerList
	if err := json.Unmarshal(payload, &list); err != nil {
		return ToolServerList{}, fmt.Errorf("decode tool server list: %w", err)
	}
	servers := list.Servers[:0]
	for _, ref := range list.Servers {
		if ref.Name != "" {
			servers = append(servers, ref)
		}
	}
	list.Servers = servers
	return list, nil
}
