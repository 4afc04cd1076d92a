// Package lockfile implements the lockfile store (C8): freeze, save,
// load, validate_against_chain, and prune_stale, with project-over-user
// precedence and an on-disk per-scope index.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/integrity"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

const CurrentLockfileVersion = 1

// Freeze builds a Lockfile from a non-empty resolved chain.
func Freeze(chain []types.ChainLink, registryURL string) (*types.Lockfile, error) {
	if len(chain) == 0 {
		return nil, kiwierr.New(kiwierr.KindInput, "cannot freeze an empty chain")
	}
	entries := make([]types.LockEntry, len(chain))
	for i, link := range chain {
		entries[i] = types.LockEntry{
			ToolID:    link.ToolID,
			Version:   link.Version,
			Integrity: link.ContentHash,
			Executor:  link.ExecutorID,
		}
	}
	lf := &types.Lockfile{
		LockfileVersion: CurrentLockfileVersion,
		GeneratedAt:     time.Now().UTC(),
		Root:            entries[0],
		ResolvedChain:   entries,
	}
	if registryURL != "" {
		lf.Registry = &types.RegistryInfo{URL: registryURL, FetchedAt: time.Now().UTC()}
	}
	return lf, nil
}

// ChainHash computes the short lockfile-index chain hash: first 12 hex of
// SHA-256 over "tool_id@version:integrity|..." for every entry in order.
func ChainHash(lf *types.Lockfile) string {
	parts := make([]string, len(lf.ResolvedChain))
	for i, e := range lf.ResolvedChain {
		parts[i] = fmt.Sprintf("%s@%s:%s", e.ToolID, e.Version, e.Integrity)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return integrity.ShortHash(hex.EncodeToString(sum[:]))
}

// indexEntry is one row of a scope's .index.json.
type indexEntry struct {
	ToolID        string    `json:"tool_id"`
	Version       string    `json:"version"`
	Category      string    `json:"category"`
	ChainHash     string    `json:"chain_hash,omitempty"`
	RelPath       string    `json:"relative_path"`
	CreatedAt     time.Time `json:"created_at"`
	LastValidated time.Time `json:"last_validated,omitempty"`
}

func indexKey(toolID, version, chainHash string) string {
	return toolID + "@" + version + "@" + chainHash
}

// Store manages lockfiles under project and/or user scope roots.
type Store struct {
	roots map[types.Scope]string // scope -> base dir containing "lockfiles/"

	mu      sync.Mutex // in-process lock serializing Save and Load's last_validated index touch
	indexMu sync.RWMutex
	indexes map[types.Scope]map[string]indexEntry
}

func NewStore(projectRoot, userRoot string) *Store {
	s := &Store{
		roots:   map[types.Scope]string{},
		indexes: map[types.Scope]map[string]indexEntry{},
	}
	if projectRoot != "" {
		s.roots[types.ScopeProject] = projectRoot
	}
	if userRoot != "" {
		s.roots[types.ScopeUser] = userRoot
	}
	return s
}

func (s *Store) lockfilesDir(scope types.Scope) (string, error) {
	root, ok := s.roots[scope]
	if !ok || root == "" {
		return "", kiwierr.Newf(kiwierr.KindInput, "scope %q unavailable", scope).WithSolution("configure a root for this scope")
	}
	return filepath.Join(root, ".ai", "lockfiles"), nil
}

func (s *Store) indexPath(scope types.Scope) (string, error) {
	dir, err := s.lockfilesDir(scope)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".index.json"), nil
}

func (s *Store) loadIndex(scope types.Scope) map[string]indexEntry {
	s.indexMu.RLock()
	if idx, ok := s.indexes[scope]; ok {
		s.indexMu.RUnlock()
		return idx
	}
	s.indexMu.RUnlock()

	idx := make(map[string]indexEntry)
	path, err := s.indexPath(scope)
	if err == nil {
		if data, readErr := os.ReadFile(path); readErr == nil {
			var list []indexEntry
			if json.Unmarshal(data, &list) == nil {
				for _, e := range list {
					idx[indexKey(e.ToolID, e.Version, e.ChainHash)] = e
				}
			}
		}
	}
	s.indexMu.Lock()
	s.indexes[scope] = idx
	s.indexMu.Unlock()
	return idx
}

func (s *Store) persistIndex(scope types.Scope, idx map[string]indexEntry) error {
	path, err := s.indexPath(scope)
	if err != nil {
		return err
	}
	list := make([]indexEntry, 0, len(idx))
	for _, e := range idx {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ToolID != list[j].ToolID {
			return list[i].ToolID < list[j].ToolID
		}
		return list[i].Version < list[j].Version
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func filename(id, version, chainHash string) string {
	if chainHash != "" {
		return fmt.Sprintf("%s@%s.%s.lock.json", id, version, chainHash)
	}
	return fmt.Sprintf("%s@%s.lock.json", id, version)
}

// Save writes lf under scope/category, atomically (temp + rename), and
// updates that scope's index. chainHash, when non-empty, distinguishes
// multiple chains pinned to the same version.
func (s *Store) Save(lf *types.Lockfile, category string, scope types.Scope, chainHash string) (string, error) {
	if scope != types.ScopeProject && scope != types.ScopeUser {
		return "", kiwierr.Newf(kiwierr.KindInput, "cannot save to scope %q", scope)
	}
	dir, err := s.lockfilesDir(scope)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindLockfile, err, "scope unavailable for save").WithSolution("set a project root before saving a project-scope lockfile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryLockfile, "save")
	defer timer.Stop()

	relDir := category
	fullDir := filepath.Join(dir, relDir)
	fname := filename(lf.Root.ToolID, lf.Root.Version, chainHash)
	fullPath := filepath.Join(fullDir, fname)

	data, err := json.MarshalIndent(toWire(lf), "", "  ")
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindLockfile, err, "marshal lockfile")
	}
	if err := writeAtomic(fullPath, data); err != nil {
		return "", kiwierr.Wrap(kiwierr.KindLockfile, err, "write lockfile")
	}

	idx := s.loadIndex(scope)
	now := time.Now().UTC()
	key := indexKey(lf.Root.ToolID, lf.Root.Version, chainHash)
	idx[key] = indexEntry{
		ToolID:    lf.Root.ToolID,
		Version:   lf.Root.Version,
		Category:  category,
		ChainHash: chainHash,
		RelPath:   filepath.Join(relDir, fname),
		CreatedAt: now,
	}
	if err := s.persistIndex(scope, idx); err != nil {
		return "", kiwierr.Wrap(kiwierr.KindLockfile, err, "persist lockfile index")
	}

	return fullPath, nil
}

// Load reads a lockfile by (id, version, category), trying project scope
// before user scope; on hit, the index's last_validated is touched to now.
func (s *Store) Load(id, version, category string) (*types.Lockfile, error) {
	for _, scope := range []types.Scope{types.ScopeProject, types.ScopeUser} {
		if _, ok := s.roots[scope]; !ok {
			continue
		}
		lf, err := s.loadFromScope(id, version, category, scope)
		if err == nil {
			return lf, nil
		}
		var kErr *kiwierr.Error
		if e, ok := err.(*kiwierr.Error); ok {
			kErr = e
		}
		if kErr != nil && kErr.Kind != kiwierr.KindNotFound {
			return nil, err
		}
	}
	return nil, kiwierr.Newf(kiwierr.KindNotFound, "lockfile %s@%s not found", id, version)
}

func (s *Store) loadFromScope(id, version, category string, scope types.Scope) (*types.Lockfile, error) {
	dir, err := s.lockfilesDir(scope)
	if err != nil {
		return nil, kiwierr.New(kiwierr.KindNotFound, "scope unavailable")
	}
	path := filepath.Join(dir, category, filename(id, version, ""))
	data, err := os.ReadFile(path)
	if err != nil {
		// Also try any chain-hashed variant recorded in the index.
		idx := s.loadIndex(scope)
		for _, e := range idx {
			if e.ToolID == id && e.Version == version {
				alt := filepath.Join(dir, e.RelPath)
				if d, err2 := os.ReadFile(alt); err2 == nil {
					return s.decodeAndTouch(d, scope, id, version, e.ChainHash)
				}
			}
		}
		return nil, kiwierr.Newf(kiwierr.KindNotFound, "lockfile %s@%s not found in %s", id, version, scope)
	}
	return s.decodeAndTouch(data, scope, id, version, "")
}

func (s *Store) decodeAndTouch(data []byte, scope types.Scope, id, version, chainHash string) (*types.Lockfile, error) {
	var w wireLockfile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindLockfile, err, "corrupt lockfile JSON")
	}
	if w.LockfileVersion != CurrentLockfileVersion {
		return nil, kiwierr.Newf(kiwierr.KindLockfile, "lockfile version %d is not supported (expected %d)", w.LockfileVersion, CurrentLockfileVersion)
	}
	lf := fromWire(w)

	s.mu.Lock()
	idx := s.loadIndex(scope)
	key := indexKey(id, version, chainHash)
	if e, ok := idx[key]; ok {
		e.LastValidated = time.Now().UTC()
		idx[key] = e
		_ = s.persistIndex(scope, idx)
	}
	s.mu.Unlock()

	return lf, nil
}

// ValidationResult is ValidateAgainstChain's verdict plus every issue found.
type ValidationResult struct {
	Valid  bool
	Issues []string
}

// ValidateAgainstChain compares a loaded lockfile's resolved_chain to a
// freshly resolved chain, position by position. Empty integrity on
// either side at a position is treated as "skip this position" — this
// tolerance applies only here, never inside the integrity verifier.
func ValidateAgainstChain(lf *types.Lockfile, chain []types.ChainLink) ValidationResult {
	if len(lf.ResolvedChain) != len(chain) {
		return ValidationResult{
			Valid:  false,
			Issues: []string{fmt.Sprintf("chain length mismatch: lockfile has %d entries, resolved chain has %d", len(lf.ResolvedChain), len(chain))},
		}
	}
	var issues []string
	for i, entry := range lf.ResolvedChain {
		link := chain[i]
		if entry.ToolID != link.ToolID {
			issues = append(issues, fmt.Sprintf("position %d: tool_id mismatch: lockfile %q vs resolved %q", i, entry.ToolID, link.ToolID))
		}
		if entry.Version != link.Version {
			issues = append(issues, fmt.Sprintf("position %d: version mismatch for %s: lockfile %s vs resolved %s", i, entry.ToolID, entry.Version, link.Version))
		}
		if entry.Integrity == "" || link.ContentHash == "" {
			continue
		}
		if entry.Integrity != link.ContentHash {
			issues = append(issues, fmt.Sprintf("Integrity mismatch for %s@%s: lockfile %s vs resolved %s",
				entry.ToolID, entry.Version, integrity.ShortHash(entry.Integrity), integrity.ShortHash(link.ContentHash)))
		}
	}
	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// PruneStale removes index entries (and their backing files) whose
// last_validated (or created_at, if never validated) is older than
// maxAgeDays. If scope is empty, both scopes are pruned.
func (s *Store) PruneStale(maxAgeDays int, scope types.Scope) (int, error) {
	scopes := []types.Scope{types.ScopeProject, types.ScopeUser}
	if scope != "" {
		scopes = []types.Scope{scope}
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	count := 0
	for _, sc := range scopes {
		if _, ok := s.roots[sc]; !ok {
			continue
		}
		dir, err := s.lockfilesDir(sc)
		if err != nil {
			continue
		}
		idx := s.loadIndex(sc)
		for key, e := range idx {
			ref := e.LastValidated
			if ref.IsZero() {
				ref = e.CreatedAt
			}
			if ref.Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, e.RelPath))
				delete(idx, key)
				count++
			}
		}
		if err := s.persistIndex(sc, idx); err != nil {
			return count, kiwierr.Wrap(kiwierr.KindLockfile, err, "persist index after prune")
		}
	}
	return count, nil
}

// --- wire format ---

type wireLockEntry struct {
	ToolID    string  `json:"tool_id"`
	Version   string  `json:"version"`
	Integrity string  `json:"integrity"`
	Executor  *string `json:"executor"`
}

type wireRegistry struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

type wireLockfile struct {
	LockfileVersion int             `json:"lockfile_version"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Root            wireLockEntry   `json:"root"`
	ResolvedChain   []wireLockEntry `json:"resolved_chain"`
	Registry        *wireRegistry   `json:"registry"`
}

func toWireEntry(e types.LockEntry) wireLockEntry {
	var executor *string
	if e.Executor != "" {
		executor = &e.Executor
	}
	return wireLockEntry{ToolID: e.ToolID, Version: e.Version, Integrity: e.Integrity, Executor: executor}
}

func fromWireEntry(w wireLockEntry) types.LockEntry {
	e := types.LockEntry{ToolID: w.ToolID, Version: w.Version, Integrity: w.Integrity}
	if w.Executor != nil {
		e.Executor = *w.Executor
	}
	return e
}

func toWire(lf *types.Lockfile) wireLockfile {
	w := wireLockfile{
		LockfileVersion: lf.LockfileVersion,
		GeneratedAt:     lf.GeneratedAt,
		Root:            toWireEntry(lf.Root),
	}
	for _, e := range lf.ResolvedChain {
		w.ResolvedChain = append(w.ResolvedChain, toWireEntry(e))
	}
	if lf.Registry != nil {
		w.Registry = &wireRegistry{URL: lf.Registry.URL, FetchedAt: lf.Registry.FetchedAt}
	}
	return w
}

func fromWire(w wireLockfile) *types.Lockfile {
	lf := &types.Lockfile{
		LockfileVersion: w.LockfileVersion,
		GeneratedAt:     w.GeneratedAt,
		Root:            fromWireEntry(w.Root),
	}
	for _, e := range w.ResolvedChain {
		lf.ResolvedChain = append(lf.ResolvedChain, fromWireEntry(e))
	}
	if w.Registry != nil {
		lf.Registry = &types.RegistryInfo{URL: w.Registry.URL, FetchedAt: w.Registry.FetchedAt}
	}
	return lf
}
