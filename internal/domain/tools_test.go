package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func TestToolMetaSetEnabled(t *testing.T) {
	set := ToolMetaSet{
		"search": {Enabled: boolPtr(true)},
		"calc":   {Enabled: boolPtr(false)},
		"plain":  {Description: "no flag"},
	}

	require.True(t, set.Enabled("search"))
	require.False(t, set.Enabled("calc"))
	require.True(t, set.Enabled("plain"), "missing flag counts as enabled")
	require.True(t, set.Enabled("unknown"), "missing entry counts as enabled")

	var nilSet ToolMetaSet
	require.True(t, nilSet.Enabled("anything"))
}

func TestToolMetaSetEqual(t *testing.T) {
	base := ToolMetaSet{
		"search": {Description: "web search", Enabled: boolPtr(true)},
		"calc":   {Description: "calculator"},
	}

	same := ToolMetaSet{
		"search": {Description: "web search", Enabled: boolPtr(true)},
		"calc":   {Description: "calculator"},
	}
	require.True(t, base.Equal(same))

	flipped := ToolMetaSet{
		"search": {Description: "web search", Enabled: boolPtr(false)},
		"calc":   {Description: "calculator"},
	}
	require.False(t, base.Equal(flipped), "enabled flag change is a change")

	reworded := ToolMetaSet{
		"search": {Description: "searches the web", Enabled: boolPtr(true)},
		"calc":   {Description: "calculator"},
	}
	require.False(t, base.Equal(reworded), "description change is a change")

	fewer := ToolMetaSet{
		"search": {Description: "web search", Enabled: boolPtr(true)},
	}
	require.False(t, base.Equal(fewer), "count change is a change")
}
