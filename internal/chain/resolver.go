// Package chain implements executor chain resolution (C5), integrity
// verification (C6), and parent->child schema validation (C7).
package chain

import (
	"os"
	"path/filepath"

	"github.com/leolilley/kiwi-mcp/internal/integrity"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/metadata"
	"github.com/leolilley/kiwi-mcp/internal/pathsvc"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// LoadedTool is one tool's parsed metadata plus its embedded signature
// hash, as read from disk by a ToolSource.
type LoadedTool struct {
	Tool         *types.Tool
	EmbeddedHash string
	FilePath     string
}

// ToolSource resolves and loads a tool's metadata by id, the one seam
// the resolver needs into C2 (path service) and C3 (metadata parsers).
type ToolSource interface {
	Load(toolID string) (*LoadedTool, error)
}

// FileToolSource is the default ToolSource backed by a pathsvc.Service
// and the metadata.ParseTool parser.
type FileToolSource struct {
	Paths *pathsvc.Service
}

func (s *FileToolSource) Load(toolID string) (*LoadedTool, error) {
	path, _, err := s.Paths.Resolve(types.KindTool, toolID)
	if err != nil {
		return nil, err // already a NotFound kiwierr.Error
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindNotFound, err, "read tool file "+path)
	}
	tool, _, err := metadata.ParseTool(toolID, filepath.Ext(path), source)
	if err != nil {
		return nil, err
	}
	hash, _, ok := integrity.Extract(source)
	if !ok {
		return nil, kiwierr.Newf(kiwierr.KindUnsignedLink, "tool %q has no embedded signature", toolID).
			WithSolution("run sign on the tool to embed a signature before resolving it")
	}

	if len(tool.Files) == 0 {
		stripped := integrity.StripSignature(source)
		tool.Files = []types.FileEntry{{
			Path:   filepath.Base(path),
			SHA256: integrity.HashBody(stripped),
		}}
	}

	return &LoadedTool{Tool: tool, EmbeddedHash: hash, FilePath: path}, nil
}

// Resolve walks executor references from start to the terminating
// primitive, detecting cycles and requiring every link to be signed.
func Resolve(start string, source ToolSource) ([]types.ChainLink, error) {
	timer := logging.StartTimer(logging.CategoryChain, "resolve")
	defer timer.Stop()

	var chainLinks []types.ChainLink
	visited := make(map[string]struct{})
	current := start
	first := true

	for {
		if _, seen := visited[current]; seen {
			return chainLinks, kiwierr.Newf(kiwierr.KindCycleDetected, "cycle detected at %q", current)
		}

		loaded, err := source.Load(current)
		if err != nil {
			if kErr, ok := asKiwiErr(err); ok && kErr.Kind == kiwierr.KindNotFound {
				if first {
					return chainLinks, kiwierr.Newf(kiwierr.KindNotFound, "tool %q not found", start)
				}
				return chainLinks, kiwierr.Newf(kiwierr.KindMissingExecutor, "executor %q referenced but not found", current)
			}
			return chainLinks, err
		}

		visited[current] = struct{}{}

		link := types.ChainLink{
			ToolID:      current,
			Version:     loaded.Tool.Version,
			ToolType:    loaded.Tool.ToolType,
			ExecutorID:  loaded.Tool.ExecutorID,
			Manifest:    loaded.Tool.Manifest,
			ContentHash: loaded.EmbeddedHash,
			FilePath:    loaded.FilePath,
		}
		link.Files = loaded.Tool.Files
		for _, f := range loaded.Tool.Files {
			link.FilesSummary = append(link.FilesSummary, f.Path)
		}
		chainLinks = append(chainLinks, link)

		if loaded.Tool.ExecutorID == "" {
			if loaded.Tool.ToolType != types.ToolTypePrimitive {
				return chainLinks, kiwierr.Newf(kiwierr.KindStructure, "tool %q has no executor but tool_type is %q, not primitive", current, loaded.Tool.ToolType)
			}
			return chainLinks, nil
		}

		current = loaded.Tool.ExecutorID
		first = false
	}
}

func asKiwiErr(err error) (*kiwierr.Error, bool) {
	kErr, ok := err.(*kiwierr.Error)
	return kErr, ok
}
