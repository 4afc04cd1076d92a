package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

const sampleToolWithMetadata = `#!/usr/bin/env python3
"""Runs the project test suite."""

TOOL_METADATA = {
    'name': 'run_tests',
    'version': '1.2.0',
    'tool_type': 'script',
    'description': 'Runs the project test suite',
}

def main():
    pass
`

func TestParseTool_WithMetadataMap(t *testing.T) {
	tool, _, err := ParseTool("run_tests", ".py", []byte(sampleToolWithMetadata))
	require.NoError(t, err)
	require.Equal(t, "1.2.0", tool.Version)
	require.Equal(t, types.ToolTypeScript, tool.ToolType)
	require.Equal(t, "Runs the project test suite", tool.Manifest["description"])
}

const sampleToolNoMetadata = `#!/usr/bin/env python3
"""A tool with only a docstring."""

def main():
    pass
`

func TestParseTool_FallsBackToDocstring(t *testing.T) {
	tool, _, err := ParseTool("bare_tool", ".py", []byte(sampleToolNoMetadata))
	require.NoError(t, err)
	require.Equal(t, "0.0.0", tool.Version, "version defaults to 0.0.0 when absent")
	require.Equal(t, "A tool with only a docstring.", tool.Manifest["description"])
}

func TestParseTool_ExtensionDefaultsType(t *testing.T) {
	tool, _, err := ParseTool("script", ".sh", []byte("#!/bin/bash\necho hi\n"))
	require.NoError(t, err)
	require.Equal(t, types.ToolTypeBash, tool.ToolType)
}
