package metadata

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leolilley/kiwi-mcp/internal/integrity"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

const frontmatterDelim = "---"

// splitFrontmatter splits source into (frontmatter yaml, body). ok is
// false when no frontmatter block is present.
func splitFrontmatter(source []byte) (yamlBlock []byte, body []byte, ok bool) {
	text := string(source)
	if !strings.HasPrefix(text, frontmatterDelim) {
		return nil, source, false
	}
	rest := text[len(frontmatterDelim):]
	rest = strings.TrimPrefix(rest, "\n")
	idx := strings.Index(rest, "\n"+frontmatterDelim)
	if idx < 0 {
		return nil, source, false
	}
	yamlPart := rest[:idx]
	afterDelim := rest[idx+1+len(frontmatterDelim):]
	afterDelim = strings.TrimPrefix(afterDelim, "\n")
	return []byte(yamlPart), []byte(afterDelim), true
}

// ParseKnowledge parses a knowledge entry's YAML frontmatter and body.
// forSigning requires frontmatter to be present (StructureError otherwise);
// read-only callers may pass false to tolerate a missing frontmatter block.
func ParseKnowledge(id string, source []byte, forSigning bool) (*types.Knowledge, []byte, error) {
	yamlBlock, body, ok := splitFrontmatter(source)
	if !ok {
		if forSigning {
			return nil, nil, kiwierr.New(kiwierr.KindStructure, "knowledge entry is missing required YAML frontmatter")
		}
		return &types.Knowledge{
			Artifact: types.Artifact{Kind: types.KindKnowledge, ID: id},
			ZettelID: id,
			Body:     strings.TrimSpace(string(source)),
		}, source, nil
	}

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindParse, err, "parse knowledge frontmatter")
	}

	bodyNoSig := integrity.StripSignature(body)

	k := &types.Knowledge{
		Artifact: types.Artifact{
			Kind: types.KindKnowledge,
			ID:   id,
		},
		ZettelID: id,
		Body:     string(bodyNoSig),
		Tags:     map[string]struct{}{},
	}

	if v, ok := fm["title"].(string); ok {
		k.Title = v
	}
	if v, ok := fm["entry_type"].(string); ok {
		k.EntryType = v
	}
	if v, ok := fm["version"].(string); ok {
		k.Version = v
	}
	if v, ok := fm["category"].(string); ok {
		k.Category = v
	}
	if v, ok := fm["source_type"].(string); ok {
		k.SourceType = v
	}
	if v, ok := fm["source_url"].(string); ok {
		k.SourceURL = v
	}
	if tags, ok := fm["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				k.Tags[s] = struct{}{}
			}
		}
	}
	if cols, ok := fm["collections"].([]any); ok {
		for _, c := range cols {
			if s, ok := c.(string); ok {
				k.Collections = append(k.Collections, s)
			}
		}
	}
	if rels, ok := fm["relationships"].([]any); ok {
		for _, r := range rels {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}
			target, _ := rm["target"].(string)
			relType, _ := rm["type"].(string)
			if target != "" {
				k.Relationships = append(k.Relationships, types.KnowledgeRelationship{
					TargetZettelID:   target,
					RelationshipType: relType,
				})
			}
		}
	}

	// contentForHashing is the body with frontmatter and any prior
	// signature stripped, in canonical UTF-8, per C1's content_hash.
	contentForHashing := bytes.TrimSpace(bodyNoSig)
	return k, contentForHashing, nil
}

// RenderKnowledge serializes k back into frontmatter+body markdown, the
// inverse of ParseKnowledge, used by the knowledge registry when a
// relationship or collection edit needs to be written back to disk. The
// signature line is never included here — callers embed one separately
// via integrity.Embed once the content hash is known.
func RenderKnowledge(k *types.Knowledge) []byte {
	fm := map[string]any{}
	if k.Title != "" {
		fm["title"] = k.Title
	}
	if k.EntryType != "" {
		fm["entry_type"] = k.EntryType
	}
	if k.Version != "" {
		fm["version"] = k.Version
	}
	if k.Category != "" {
		fm["category"] = k.Category
	}
	if k.SourceType != "" {
		fm["source_type"] = k.SourceType
	}
	if k.SourceURL != "" {
		fm["source_url"] = k.SourceURL
	}
	if len(k.Tags) > 0 {
		tags := make([]string, 0, len(k.Tags))
		for t := range k.Tags {
			tags = append(tags, t)
		}
		fm["tags"] = tags
	}
	if len(k.Collections) > 0 {
		fm["collections"] = k.Collections
	}
	if len(k.Relationships) > 0 {
		rels := make([]map[string]any, len(k.Relationships))
		for i, r := range k.Relationships {
			rels[i] = map[string]any{"target": r.TargetZettelID, "type": r.RelationshipType}
		}
		fm["relationships"] = rels
	}

	yamlBlock, err := yaml.Marshal(fm)
	if err != nil {
		yamlBlock = []byte{}
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim)
	buf.WriteByte('\n')
	buf.Write(yamlBlock)
	buf.WriteString(frontmatterDelim)
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	buf.WriteString(strings.TrimSpace(k.Body))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// FrontmatterMap re-exposes the raw frontmatter map for callers (e.g. the
// schema validator) that need it independent of the typed Knowledge
// struct above.
func FrontmatterMap(source []byte) (map[string]any, bool) {
	yamlBlock, _, ok := splitFrontmatter(source)
	if !ok {
		return nil, false
	}
	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, false
	}
	return fm, true
}
