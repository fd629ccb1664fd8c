package a2a

import (
	"testing"

	"github.com/stretchr/testify/require"

	"agentbridge/internal/domain"
)

func TestBlocksToPartsAndBack(t *testing.T) {
	blocks := []domain.ContentBlock{
		{Kind: domain.BlockText, Text: "hello"},
		{Kind: domain.BlockThinking, Text: "pondering"},
		{Kind: domain.BlockToolUse, ToolUseID: "call-1", ToolName: "calc", Input: []byte(`{"expr":"6*7"}`)},
		{Kind: domain.BlockToolResult, ToolUseID: "call-1", ToolName: "calc", Output: "42"},
		{Kind: domain.BlockMedia, URL: "https://example.com/cat.png", MIMEType: "image/png"},
	}

	parts := BlocksToParts(blocks)
	require.Len(t, parts, 5)
	require.Equal(t, PartKindText, parts[0].Kind)
	require.Nil(t, parts[0].Metadata, "plain text carries no tag")
	require.Equal(t, string(domain.BlockThinking), parts[1].Metadata[metaBlockType])
	require.Equal(t, PartKindData, parts[2].Kind)
	require.Equal(t, "6*7", parts[2].Data["expr"])
	require.Equal(t, PartKindFile, parts[4].Kind)

	back := PartsToBlocks(parts)
	require.Len(t, back, 5)
	require.Equal(t, domain.BlockText, back[0].Kind)
	require.Equal(t, domain.BlockThinking, back[1].Kind)
	require.Equal(t, "pondering", back[1].Text)
	require.Equal(t, domain.BlockToolUse, back[2].Kind)
	require.Equal(t, "call-1", back[2].ToolUseID)
	require.Equal(t, "calc", back[2].ToolName)
	require.JSONEq(t, `{"expr":"6*7"}`, string(back[2].Input))
	require.Equal(t, domain.BlockToolResult, back[3].Kind)
	require.Equal(t, "42", back[3].Output)
	require.Equal(t, domain.BlockMedia, back[4].Kind)
	require.Equal(t, "image/png", back[4].MIMEType)
}

func TestPartsToBlocksUntaggedDegradeGracefully(t *testing.T) {
	parts := []Part{
		{Kind: PartKindText, Text: "plain"},
		{Kind: PartKindData, Data: map[string]any{"k": "v"}},
		{Kind: PartKindFile, File: &FilePart{URI: "https://example.com/doc.pdf", MIMEType: "application/pdf"}},
	}

	blocks := PartsToBlocks(parts)
	require.Len(t, blocks, 3)
	require.Equal(t, domain.BlockText, blocks[0].Kind)
	require.Equal(t, domain.BlockText, blocks[1].Kind, "untagged data degrades to text")
	require.JSONEq(t, `{"k":"v"}`, blocks[1].Text)
	require.Equal(t, domain.BlockMedia, blocks[2].Kind)
}

func TestFromMessageCarriesIdentifiers(t *testing.T) {
	msg := FromMessage("helper", &Message{
		MessageID: "m-1",
		Role:      RoleAgent,
		TaskID:    "t-1",
		ContextID: "c-1",
		Parts:     []Part{{Kind: PartKindText, Text: "done"}},
	})

	require.Equal(t, "helper", msg.Name)
	require.Equal(t, domain.RoleAssistant, msg.Role)
	require.Equal(t, "done", msg.Text())
	require.Equal(t, "m-1", msg.Metadata[MetaMessageID])
	require.Equal(t, "t-1", msg.Metadata[MetaTaskID])
	require.Equal(t, "c-1", msg.Metadata[MetaContextID])
	require.False(t, msg.IsError())
}
