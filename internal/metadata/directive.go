// Package metadata implements the kind-specific parsers (C3): directive
// XML, tool script headers, and knowledge frontmatter. Each parser
// returns a normalized types value plus the raw bytes used for hashing,
// parsed once into typed structures rather than walked defensively at
// every call site.
package metadata

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

var xmlFenceRE = regexp.MustCompile("(?s)```xml\\s*\\n(.*?)\\n```")

// ExtractXMLBlock finds the single fenced ```xml block inside source.
func ExtractXMLBlock(source []byte) ([]byte, error) {
	matches := xmlFenceRE.FindAllSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, kiwierr.New(kiwierr.KindStructure, "no fenced xml block found")
	}
	if len(matches) > 1 {
		return nil, kiwierr.New(kiwierr.KindStructure, "more than one fenced xml block found")
	}
	return bytes.TrimSpace(matches[0][1]), nil
}

type directiveRoot struct {
	XMLName xml.Name `xml:"directive"`
	Name    string   `xml:"name,attr"`
	Version string   `xml:"version,attr"`
}

var directiveOrder = []string{"metadata", "inputs", "process", "body", "outputs"}

// verifyTopLevelOrder walks the top-level children of <directive> and
// confirms they appear in the order metadata -> inputs -> (process|body)
// -> outputs, each at most once, process and body mutually exclusive,
// and no unrecognized elements.
func verifyTopLevelOrder(xmlBody []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	depth := 0
	var seenProcessOrBody bool
	lastRank := -1
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			depth++
			if depth != 2 {
				continue
			}
			name := se.Name.Local
			rank := -1
			for i, n := range directiveOrder {
				if n == name {
					rank = i
					break
				}
			}
			if rank == -1 {
				return kiwierr.Newf(kiwierr.KindStructure, "unknown element %q in directive", name)
			}
			if name == "process" || name == "body" {
				if seenProcessOrBody {
					return kiwierr.New(kiwierr.KindStructure, "directive may declare at most one of process or body")
				}
				seenProcessOrBody = true
				rank = 2 // process and body share a rank slot
			}
			if rank == lastRank {
				return kiwierr.Newf(kiwierr.KindStructure, "element %q appears more than once in directive", name)
			}
			if rank < lastRank {
				return kiwierr.Newf(kiwierr.KindStructure, "element %q out of order: expected metadata -> inputs -> process|body -> outputs", name)
			}
			lastRank = rank
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// xmlPermission matches any element under <permissions> — the element's
// own tag name is the permission kind (read|write|execute), per the data
// model, not a fixed "permission" wrapper tag.
type xmlPermission struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

type xmlPermissionsBlock struct {
	Items []xmlPermission `xml:",any"`
}

type xmlInput struct {
	Name        string `xml:"name,attr"`
	Type        string `xml:"type,attr"`
	Required    string `xml:"required,attr"`
	Description string `xml:",chardata"`
}

type xmlMetadata struct {
	Description       string              `xml:"description"`
	ModelTier         string              `xml:"model_tier"`
	PermissionsBlock  xmlPermissionsBlock `xml:"permissions"`
	MCPs              []string            `xml:"mcps>mcp"`
}

type xmlInputsBlock struct {
	Inputs []xmlInput `xml:"input"`
	Schema string     `xml:"schema"`
}

type xmlProcessBlock struct {
	Steps []string `xml:"step"`
}

type directiveDoc struct {
	XMLName xml.Name         `xml:"directive"`
	Name    string           `xml:"name,attr"`
	Version string           `xml:"version,attr"`
	Metadata xmlMetadata     `xml:"metadata"`
	Inputs   xmlInputsBlock  `xml:"inputs"`
	Process  xmlProcessBlock `xml:"process"`
	Body     xmlProcessBlock `xml:"body"`
	Outputs  string          `xml:"outputs"`
}

// ParseDirective extracts the fenced XML block from source, enforces
// structural order, and returns a normalized Directive plus the raw XML
// body (used verbatim for hashing — never re-serialized).
func ParseDirective(id string, source []byte) (*types.Directive, []byte, error) {
	xmlBody, err := ExtractXMLBlock(source)
	if err != nil {
		return nil, nil, err
	}
	if err := verifyTopLevelOrder(xmlBody); err != nil {
		return nil, nil, err
	}

	var root directiveRoot
	if err := xml.Unmarshal(xmlBody, &root); err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindParse, err, "parse directive root attributes")
	}
	if root.Name == "" {
		return nil, nil, kiwierr.New(kiwierr.KindStructure, "directive is missing required name attribute")
	}
	if root.Version == "" {
		return nil, nil, kiwierr.New(kiwierr.KindStructure, "directive is missing required version attribute")
	}
	if _, err := semver.StrictNewVersion(root.Version); err != nil {
		return nil, nil, kiwierr.Newf(kiwierr.KindStructure, "directive version %q is not strict semver: %v", root.Version, err)
	}

	var doc directiveDoc
	if err := xml.Unmarshal(xmlBody, &doc); err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindParse, err, "parse directive body")
	}

	perms := make([]types.PermissionDecl, 0, len(doc.Metadata.PermissionsBlock.Items))
	for _, p := range doc.Metadata.PermissionsBlock.Items {
		attrs := make(map[string]string, len(p.Attrs))
		for _, a := range p.Attrs {
			attrs[a.Name.Local] = a.Value
		}
		perms = append(perms, types.PermissionDecl{Tag: p.XMLName.Local, Attributes: attrs})
	}

	inputs := make([]types.InputSpec, 0, len(doc.Inputs.Inputs))
	for _, in := range doc.Inputs.Inputs {
		inputs = append(inputs, types.InputSpec{
			Name:        in.Name,
			Type:        in.Type,
			Required:    strings.EqualFold(strings.TrimSpace(in.Required), "true"),
			Description: strings.TrimSpace(in.Description),
		})
	}

	steps := doc.Process.Steps
	if len(steps) == 0 {
		steps = doc.Body.Steps
	}

	d := &types.Directive{
		Artifact: types.Artifact{
			Kind:    types.KindDirective,
			ID:      id,
			Version: root.Version,
		},
		Description: strings.TrimSpace(doc.Metadata.Description),
		ModelTier:   strings.TrimSpace(doc.Metadata.ModelTier),
		Permissions: perms,
		Inputs:      inputs,
		Steps:       steps,
		MCPs:        doc.Metadata.MCPs,
		XMLBody:     xmlBody,
	}
	return d, xmlBody, nil
}
