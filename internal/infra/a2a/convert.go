package a2a

import (
	"encoding/json"

	"agentbridge/internal/domain"
)

// Part metadata tags used to round-trip block kinds that the wire format
// has no native shape for.
const (
	metaBlockType = "agentbridge.blockType"
	metaToolName  = "agentbridge.toolName"
	metaToolUseID = "agentbridge.toolUseID"
)

// Msg metadata keys carrying protocol identifiers.
const (
	MetaMessageID = "a2a_message_id"
	MetaTaskID    = "a2a_task_id"
	MetaContextID = "a2a_context_id"
	MetaTaskState = "a2a_task_state"
	MetaArtifacts = "a2a_artifacts"
)

// BlocksToParts renders content blocks as wire parts. Kinds the wire format
// cannot express natively are tagged so the receiving side can reconstruct
// them.
func BlocksToParts(blocks []domain.ContentBlock) []Part {
	parts := make([]Part, 0, len(blocks))
	for _, block := range blocks {
		switch block.Kind {
		case domain.BlockText:
			parts = append(parts, Part{Kind: PartKindText, Text: block.Text})
		case domain.BlockThinking:
			parts = append(parts, Part{
				Kind:     PartKindText,
				Text:     block.Text,
				Metadata: map[string]any{metaBlockType: string(domain.BlockThinking)},
			})
		case domain.BlockToolUse:
			parts = append(parts, Part{
				Kind: PartKindData,
				Data: decodeArgs(block.Input),
				Metadata: map[string]any{
					metaBlockType: string(domain.BlockToolUse),
					metaToolName:  block.ToolName,
					metaToolUseID: block.ToolUseID,
				},
			})
		case domain.BlockToolResult:
			parts = append(parts, Part{
				Kind: PartKindData,
				Data: map[string]any{"output": block.Output},
				Metadata: map[string]any{
					metaBlockType: string(domain.BlockToolResult),
					metaToolName:  block.ToolName,
					metaToolUseID: block.ToolUseID,
				},
			})
		case domain.BlockMedia:
			parts = append(parts, Part{
				Kind: PartKindFile,
				File: &FilePart{URI: block.URL, MIMEType: block.MIMEType},
			})
		}
	}
	return parts
}

func decodeArgs(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(input, &data); err != nil {
		return map[string]any{"raw": string(input)}
	}
	return data
}

// PartsToBlocks reconstructs content blocks from wire parts. Tagged parts
// restore their original kind; untagged parts degrade to text or media.
func PartsToBlocks(parts []Part) []domain.ContentBlock {
	blocks := make([]domain.ContentBlock, 0, len(parts))
	for _, part := range parts {
		blockType, _ := part.Metadata[metaBlockType].(string)
		switch {
		case part.Kind == PartKindText && blockType == string(domain.BlockThinking):
			blocks = append(blocks, domain.ContentBlock{Kind: domain.BlockThinking, Text: part.Text})
		case part.Kind == PartKindText:
			blocks = append(blocks, domain.ContentBlock{Kind: domain.BlockText, Text: part.Text})
		case part.Kind == PartKindData && blockType == string(domain.BlockToolUse):
			input, _ := json.Marshal(part.Data)
			blocks = append(blocks, domain.ContentBlock{
				Kind:      domain.BlockToolUse,
				ToolName:  stringMeta(part.Metadata, metaToolName),
				ToolUseID: stringMeta(part.Metadata, metaToolUseID),
				Input:     input,
			})
		case part.Kind == PartKindData && blockType == string(domain.BlockToolResult):
			output, _ := part.Data["output"].(string)
			blocks = append(blocks, domain.ContentBlock{
				Kind:      domain.BlockToolResult,
				ToolName:  stringMeta(part.Metadata, metaToolName),
				ToolUseID: stringMeta(part.Metadata, metaToolUseID),
				Output:    output,
			})
		case part.Kind == PartKindData:
			encoded, _ := json.Marshal(part.Data)
			blocks = append(blocks, domain.ContentBlock{Kind: domain.BlockText, Text: string(encoded)})
		case part.Kind == PartKindFile && part.File != nil:
			blocks = append(blocks, domain.ContentBlock{
				Kind:     domain.BlockMedia,
				URL:      part.File.URI,
				MIMEType: part.File.MIMEType,
			})
		}
	}
	return blocks
}

func stringMeta(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

// FromMessage converts a protocol message into a conversation message
// attributed to the named remote agent, carrying the protocol identifiers
// in metadata.
func FromMessage(name string, m *Message) domain.Msg {
	role := domain.RoleAssistant
	if m.Role == RoleUser {
		role = domain.RoleUser
	}
	msg := domain.Msg{
		Name:   name,
		Role:   role,
		Blocks: PartsToBlocks(m.Parts),
	}
	msg.SetMeta(MetaMessageID, m.MessageID)
	if m.TaskID != "" {
		msg.SetMeta(MetaTaskID, m.TaskID)
	}
	if m.ContextID != "" {
		msg.SetMeta(MetaContextID, m.ContextID)
	}
	return msg
}
