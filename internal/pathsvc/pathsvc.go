// Package pathsvc resolves (kind, id, scope) to a filesystem path with
// caching, searching each scope root direct first, then one directory
// level, then recursively.
package pathsvc

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

var defaultExtensions = map[types.Kind]string{
	types.KindDirective: ".md",
	types.KindKnowledge: ".md",
	types.KindTool:      ".py",
}

// Roots maps each scope to its base directory, e.g.
// {project}/.ai/{directives,tools,knowledge}.
type Roots struct {
	Project string // "" when no project scope is available
	User    string // "" when no user scope is available
}

// BaseFor returns the base directory for kind within scope, e.g.
// {root}/.ai/tools, or "" if scope has no configured root.
func (r Roots) BaseFor(kind types.Kind, scope types.Scope) string {
	var root string
	switch scope {
	case types.ScopeProject:
		root = r.Project
	case types.ScopeUser:
		root = r.User
	default:
		return ""
	}
	if root == "" {
		return ""
	}
	sub := map[types.Kind]string{
		types.KindDirective: "directives",
		types.KindTool:      "tools",
		types.KindKnowledge: "knowledge",
	}[kind]
	return filepath.Join(root, ".ai", sub)
}

type cacheKey struct {
	kind  types.Kind
	id    string
	scope types.Scope
}

// Service resolves artifact paths with a read-mostly cache, including
// negative hits, invalidated only by explicit calls.
type Service struct {
	roots      Roots
	extraExts  map[types.Kind][]string // additional extensions contributed by registered extractors
	mu         sync.RWMutex
	cache      map[cacheKey]string // "" stored for a cached negative hit
}

func New(roots Roots) *Service {
	return &Service{
		roots:     roots,
		extraExts: make(map[types.Kind][]string),
		cache:     make(map[cacheKey]string),
	}
}

// Roots returns the scope roots this service resolves against, so that
// callers needing to construct a brand-new artifact path (the registries'
// publish path, e.g.) or walk a scope's tree can do so without
// duplicating root configuration.
func (s *Service) Roots() Roots { return s.roots }

// RegisterExtension adds an extension an extractor contributes for a kind,
// e.g. tools defined in ".sh" or ".js" files alongside the ".py" default.
func (s *Service) RegisterExtension(kind types.Kind, ext string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraExts[kind] = append(s.extraExts[kind], ext)
}

func (s *Service) extensions(kind types.Kind) []string {
	exts := []string{defaultExtensions[kind]}
	s.mu.RLock()
	exts = append(exts, s.extraExts[kind]...)
	s.mu.RUnlock()
	return exts
}

// Resolve finds the path for (kind, id) across project then user scope,
// returning the first hit found.
func (s *Service) Resolve(kind types.Kind, id string) (string, types.Scope, error) {
	for _, scope := range []types.Scope{types.ScopeProject, types.ScopeUser} {
		if path, err := s.ResolveInScope(kind, id, scope); err == nil {
			return path, scope, nil
		}
	}
	return "", "", kiwierr.Newf(kiwierr.KindNotFound, "%s %q not found in any scope", kind, id).
		WithSolution("create it in the project or user tier, or load it from the remote registry")
}

// ResolveInScope resolves within exactly one scope tier.
func (s *Service) ResolveInScope(kind types.Kind, id string, scope types.Scope) (string, error) {
	key := cacheKey{kind, id, scope}
	s.mu.RLock()
	if cached, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		if cached == "" {
			return "", kiwierr.Newf(kiwierr.KindNotFound, "%s %q not found in %s scope (cached)", kind, id, scope)
		}
		return cached, nil
	}
	s.mu.RUnlock()

	base := s.roots.BaseFor(kind, scope)
	if base == "" {
		return "", kiwierr.Newf(kiwierr.KindNotFound, "%s scope unavailable", scope)
	}

	timer := logging.StartTimer(logging.CategoryPathSvc, "resolve")
	defer timer.Stop()

	path, found := s.search(base, id, s.extensions(kind))

	s.mu.Lock()
	s.cache[key] = path // "" on not-found caches the negative hit
	s.mu.Unlock()

	if !found {
		return "", kiwierr.Newf(kiwierr.KindNotFound, "%s %q not found under %s", kind, id, base)
	}
	return path, nil
}

func (s *Service) search(base, id string, exts []string) (string, bool) {
	// 1. Direct: {base}/{id}{ext}
	for _, ext := range exts {
		candidate := filepath.Join(base, id+ext)
		if fileExists(candidate) {
			return candidate, true
		}
	}
	// 2. One-level category: {base}/*/{id}{ext}
	entries, err := os.ReadDir(base)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			for _, ext := range exts {
				candidate := filepath.Join(base, e.Name(), id+ext)
				if fileExists(candidate) {
					return candidate, true
				}
			}
		}
	}
	// 3. Recursive: {base}/**/{id}{ext}
	var found string
	_ = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" || info == nil || info.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		for _, ext := range exts {
			if name == id+ext {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if found != "" {
		return found, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Invalidate drops one cache entry.
func (s *Service) Invalidate(kind types.Kind, id string, scope types.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey{kind, id, scope})
}

// InvalidateAll clears the entire cache.
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[cacheKey]string)
}

// ValidationIssue describes one structural problem found by ValidatePath.
type ValidationIssue struct {
	Message string
}

// ValidatePath inspects path, returning its normalized category (the
// directory segments between the kind root and the filename), the scope
// it appears to belong to, and any structural issues found.
func (s *Service) ValidatePath(kind types.Kind, path string) (category string, scope types.Scope, issues []ValidationIssue) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", []ValidationIssue{{Message: err.Error()}}
	}
	for _, sc := range []types.Scope{types.ScopeProject, types.ScopeUser} {
		base := s.roots.BaseFor(kind, sc)
		if base == "" {
			continue
		}
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(absBase, abs); err == nil && !strings.HasPrefix(rel, "..") {
			dir := filepath.Dir(rel)
			if dir == "." {
				dir = ""
			}
			scope = sc
			category = filepath.ToSlash(dir)
			break
		}
	}
	if scope == "" {
		issues = append(issues, ValidationIssue{Message: "path does not fall under any known scope root"})
	}
	if !fileExists(abs) {
		issues = append(issues, ValidationIssue{Message: "path does not reference an existing file"})
	}
	return category, scope, issues
}
