package domain

import "strings"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// BlockKind discriminates the content block variants of a Msg.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockMedia      BlockKind = "media"
)

// ContentBlock is one typed piece of message content. Only the fields
// relevant to Kind are populated.
type ContentBlock struct {
	Kind BlockKind

	// Text carries the content of text and thinking blocks.
	Text string

	// ToolUseID, ToolName and Input describe a tool_use block; ToolUseID,
	// ToolName and Output describe a tool_result block.
	ToolUseID string
	ToolName  string
	Input     []byte
	Output    string

	// URL and MIMEType describe a media block.
	URL      string
	MIMEType string
}

// Msg is the local message representation exchanged with agents.
type Msg struct {
	Name     string
	Role     string
	Blocks   []ContentBlock
	Metadata map[string]any
}

// TextMsg builds a single-block text message.
func TextMsg(name, role, text string) Msg {
	return Msg{
		Name:   name,
		Role:   role,
		Blocks: []ContentBlock{{Kind: BlockText, Text: text}},
	}
}

// Text concatenates the message's text blocks.
func (m Msg) Text() string {
	var sb strings.Builder
	for _, block := range m.Blocks {
		if block.Kind == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// SetMeta sets a metadata key, allocating the map on first use.
func (m *Msg) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// IsError reports whether the message carries the error marker set when a
// remote call failed and was converted into an ordinary response message.
func (m Msg) IsError() bool {
	flagged, _ := m.Metadata[MetaError].(bool)
	return flagged
}

// Metadata keys attached to messages converted from the remote protocol.
const (
	MetaError        = "a2a_error"
	MetaErrorMessage = "a2a_error_message"
)
