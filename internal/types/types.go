// Package types holds the data model shared across every kernel component:
// artifacts, chain links, lockfiles, capability tokens, and audit entries.
// Parsers build these from raw bytes once; no component re-walks raw JSON
// or frontmatter maps downstream of parsing.
package types

import "time"

// Kind is the closed set of artifact kinds the kernel manages.
type Kind string

const (
	KindDirective Kind = "directive"
	KindTool      Kind = "tool"
	KindKnowledge Kind = "knowledge"
)

// Scope is one tier of the three-tier namespace.
type Scope string

const (
	ScopeProject  Scope = "project"
	ScopeUser     Scope = "user"
	ScopeRegistry Scope = "registry"
)

// Artifact carries the fields common to every kind.
type Artifact struct {
	Kind           Kind
	ID             string
	Version        string // strict semver X.Y.Z
	Category       string // slash-separated, possibly empty
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SignatureBlock string // raw embedded signature line, if present
}

// PermissionDecl is one <permission> declaration inside a directive.
type PermissionDecl struct {
	Tag        string // read | write | execute
	Attributes map[string]string
}

// InputSpec describes one <input> declared by a directive.
type InputSpec struct {
	Name        string
	Type        string // string|number|integer|boolean|array|object
	Required    bool
	Description string
}

// Directive is the parsed form of a directive artifact.
type Directive struct {
	Artifact
	Description string
	ModelTier   string
	Permissions []PermissionDecl
	Inputs      []InputSpec
	InputSchema map[string]any // optional JSON-Schema for inputs
	Steps       []string
	MCPs        []string
	XMLBody     []byte // raw XML body, used verbatim for hashing
}

// ToolType is the closed set of tool kinds; only primitive may have a nil
// ExecutorID.
type ToolType string

const (
	ToolTypeScript    ToolType = "script"
	ToolTypeRuntime   ToolType = "runtime"
	ToolTypePrimitive ToolType = "primitive"
	ToolTypeAPI       ToolType = "api"
	ToolTypeBash      ToolType = "bash"
)

// FileEntry is one file belonging to a tool artifact.
type FileEntry struct {
	Path        string
	Content     []byte
	SHA256      string
	IsExecutable bool
}

// ChildSchemaRule is one entry in a tool's manifest.validation.child_schemas.
type ChildSchemaRule struct {
	Match  map[string]any // flat or dotted-key equality predicate
	Schema map[string]any // JSON-Schema to validate the child against
}

// Tool is the parsed form of a tool artifact.
type Tool struct {
	Artifact
	ToolType   ToolType
	ExecutorID string // empty iff ToolType == primitive
	Manifest   map[string]any
	Files      []FileEntry
	ContentHash string

	ChildSchemas []ChildSchemaRule // parsed from manifest.validation.child_schemas
}

// KnowledgeRelationship is a directed labeled edge to another zettel.
type KnowledgeRelationship struct {
	TargetZettelID   string
	RelationshipType string
}

// Knowledge is the parsed form of a knowledge-entry artifact.
type Knowledge struct {
	Artifact
	ZettelID      string
	Title         string
	EntryType     string
	Tags          map[string]struct{}
	SourceType    string
	SourceURL     string
	Body          string
	Relationships []KnowledgeRelationship
	Collections   []string
}

// ChainLink is one resolved hop in an executor chain.
type ChainLink struct {
	ToolID      string
	Version     string
	ToolType    ToolType
	ExecutorID  string // "" when ToolType == primitive
	Manifest    map[string]any
	Files       []FileEntry // used to recompute the canonical hash (C6)
	FilesSummary []string   // paths only, for display
	ContentHash string       // hash embedded in the source signature, i.e. the "stored" hash
	FilePath    string
}

// Lockfile captures a resolved chain with pinned versions and integrities.
type Lockfile struct {
	LockfileVersion int
	GeneratedAt     time.Time
	Root            LockEntry
	ResolvedChain   []LockEntry
	Registry        *RegistryInfo
}

type LockEntry struct {
	ToolID    string
	Version   string
	Integrity string
	Executor  string // "" or null in JSON
}

type RegistryInfo struct {
	URL       string
	FetchedAt time.Time
}

// CapabilityToken is the runtime security kernel's signed permission set.
type CapabilityToken struct {
	Caps        []string // sorted, deduplicated
	Aud         string   // constant "kiwi-mcp"
	Exp         time.Time
	DirectiveID string
	ThreadID    string
	ParentID    string // "" when root
	Signature   string // base64 Ed25519 signature, excluded from signing payload
}

// AuditEventType is the closed set of audit record kinds.
type AuditEventType string

const (
	EventPermissionCheck AuditEventType = "permission_check"
	EventExecution       AuditEventType = "execution"
	EventError           AuditEventType = "error"
	EventStuckDetected   AuditEventType = "stuck_detected"
)

// AuditEntry is one line of the append-only session audit log.
type AuditEntry struct {
	Timestamp time.Time
	SessionID string
	EventType AuditEventType
	ToolID    string
	Details   map[string]any
}

// EmbeddingRecord is one persisted vector with its validation provenance.
type EmbeddingRecord struct {
	ItemID      string
	ItemType    string
	Embedding   []float32
	Content     string // truncated to <= 2KB by the caller
	Metadata    map[string]any
	ValidatedAt time.Time
	Signature   string
}

// SearchResult is returned by both the BM25 index and the vector store.
type SearchResult struct {
	ItemID         string
	ItemType       string
	Score          float64
	ContentPreview string // <= 200 chars
	Metadata       map[string]any
	Source         Scope
}
