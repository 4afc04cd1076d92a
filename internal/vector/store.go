// Package vector implements the per-tier vector stores and the three-tier
// hybrid search manager (C15). Each local tier persists binary-packed
// float32 vectors in SQLite via the pure-Go modernc.org/sqlite driver, so
// the kernel never requires cgo to build. ANN search runs against a vec0
// virtual table backed by vec_compat.go's in-process module (registering
// its own cosine-distance scalar function on the same driver), falling
// back to brute-force cosine scan when that table is unavailable —
// directly adapted from the teacher's vector_store.go / vec_compat.go
// pattern, minus the teacher's cgo-only native sqlite-vec extension path.
package vector

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leolilley/kiwi-mcp/internal/embedding"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// scoredResult pairs a candidate SearchResult with its raw score for
// sorting before truncation to limit.
type scoredResult struct {
	result types.SearchResult
	score  float64
}

// Validator gates a record before it is persisted; embed_and_store
// short-circuits on a typed error from Validate.
type Validator func(rec *types.EmbeddingRecord) error

// Tier is the common interface every scope's vector backing store
// satisfies; the three-tier Manager fans out across implementations of
// this interface.
type Tier interface {
	Scope() types.Scope
	Store(ctx context.Context, rec *types.EmbeddingRecord) error
	Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error)
	Close() error
}

// vecTierSeq generates a process-unique vec0 table name per tier, since
// the compat module's row storage (vec_compat.go) is keyed by table name
// in an in-process map rather than scoped to a *sql.DB connection.
var vecTierSeq int64

// SQLiteTier is a file-backed local vector store (project or user scope).
type SQLiteTier struct {
	scope     types.Scope
	db        *sql.DB
	dims      int
	vecExtOK  bool
	vecTable  string
}

// OpenSQLiteTier opens (creating if absent) a SQLite-backed vector store
// at path for the given scope and embedding dimensionality.
func OpenSQLiteTier(scope types.Scope, path string, dims int) (*SQLiteTier, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindTransient, err, "open vector store")
	}
	id := atomic.AddInt64(&vecTierSeq, 1)
	t := &SQLiteTier{scope: scope, db: db, dims: dims, vecTable: fmt.Sprintf("vec_index_%d", id)}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	t.initVecIndex()
	return t, nil
}

func (t *SQLiteTier) migrate() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			item_id TEXT PRIMARY KEY,
			item_type TEXT,
			embedding BLOB,
			content TEXT,
			metadata TEXT,
			validated_at TEXT,
			signature TEXT
		)`)
	if err != nil {
		return kiwierr.Wrap(kiwierr.KindTransient, err, "migrate vector table")
	}
	return nil
}

// initVecIndex attempts to create this tier's vec0 virtual table and load
// it with every vector already in the vectors table; on failure the tier
// silently falls back to brute-force search, same degrade-gracefully
// behavior as the teacher's LocalStore.initVecIndex.
func (t *SQLiteTier) initVecIndex() {
	if t.dims <= 0 {
		return
	}
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d], item_id TEXT)", t.vecTable, t.dims)
	if _, err := t.db.Exec(stmt); err == nil {
		rebuild := fmt.Sprintf(`INSERT INTO %s (rowid, embedding, item_id) SELECT rowid, embedding, item_id FROM vectors`, t.vecTable)
		if _, err := t.db.Exec(rebuild); err != nil {
			logging.Get(logging.CategoryVector).Warnw("vec index rebuild failed, using brute-force fallback", "error", err)
			return
		}
		t.vecExtOK = true
		logging.Get(logging.CategoryVector).Infow("sqlite-vec index initialized", "dimensions", t.dims, "scope", t.scope)
	} else {
		logging.Get(logging.CategoryVector).Warnw("sqlite-vec unavailable, using brute-force fallback", "error", err)
	}
}

func (t *SQLiteTier) Scope() types.Scope { return t.scope }

func (t *SQLiteTier) Close() error { return t.db.Close() }

// Store persists rec's vector, content, and metadata, updating the vec0
// index when available. Callers must pre-validate and normalize rec.
func (t *SQLiteTier) Store(ctx context.Context, rec *types.EmbeddingRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return kiwierr.Wrap(kiwierr.KindInput, err, "marshal embedding metadata")
	}
	blob := encodeFloat32Slice(rec.Embedding)

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO vectors (item_id, item_type, embedding, content, metadata, validated_at, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			item_type=excluded.item_type, embedding=excluded.embedding,
			content=excluded.content, metadata=excluded.metadata,
			validated_at=excluded.validated_at, signature=excluded.signature`,
		rec.ItemID, rec.ItemType, blob, rec.Content, string(metaJSON),
		rec.ValidatedAt.UTC().Format(time.RFC3339), rec.Signature)
	if err != nil {
		return kiwierr.Wrap(kiwierr.KindTransient, err, "store embedding record")
	}

	if t.vecExtOK {
		_, _ = t.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ?`, t.vecTable), rec.ItemID)
		insert := fmt.Sprintf(`INSERT INTO %s (rowid, embedding, item_id) VALUES ((SELECT COALESCE(MAX(rowid),0)+1 FROM %s), ?, ?)`, t.vecTable, t.vecTable)
		if _, err := t.db.ExecContext(ctx, insert, blob, rec.ItemID); err != nil {
			logging.Get(logging.CategoryVector).Warnw("vec index insert failed", "error", err)
		}
	}
	return nil
}

// Search runs cosine nearest-neighbor search, preferring the vec0 index
// and falling back to a brute-force scan over the vectors table.
func (t *SQLiteTier) Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if t.vecExtOK {
		results, err := t.searchVecIndex(ctx, queryVec, limit)
		if err == nil {
			return results, nil
		}
		logging.Get(logging.CategoryVector).Warnw("vec_index search failed, falling back", "error", err)
	}
	return t.searchBruteForce(ctx, queryVec, limit)
}

func (t *SQLiteTier) searchVecIndex(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	blob := encodeFloat32Slice(queryVec)
	query := fmt.Sprintf(`
		SELECT v.item_id, v.item_type, v.content, v.metadata, vec_distance_cosine(vi.embedding, ?) AS dist
		FROM %s vi JOIN vectors v ON v.item_id = vi.item_id
		ORDER BY dist ASC LIMIT ?`, t.vecTable)
	rows, err := t.db.QueryContext(ctx, query, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SearchResult
	for rows.Next() {
		var itemID, itemType, content, metaJSON string
		var dist float64
		if err := rows.Scan(&itemID, &itemType, &content, &metaJSON, &dist); err != nil {
			continue
		}
		out = append(out, t.toResult(itemID, itemType, content, metaJSON, 1-dist))
	}
	return out, nil
}

func (t *SQLiteTier) searchBruteForce(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT item_id, item_type, embedding, content, metadata FROM vectors`)
	if err != nil {
		return nil, kiwierr.Wrap(kiwierr.KindTransient, err, "brute-force vector scan")
	}
	defer rows.Close()

	var all []scoredResult
	for rows.Next() {
		var itemID, itemType, content, metaJSON string
		var blob []byte
		if err := rows.Scan(&itemID, &itemType, &blob, &content, &metaJSON); err != nil {
			continue
		}
		vec := decodeFloat32Slice(blob)
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		all = append(all, scoredResult{result: t.toResult(itemID, itemType, content, metaJSON, sim), score: sim})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]types.SearchResult, len(all))
	for i, s := range all {
		out[i] = s.result
	}
	return out, nil
}

func (t *SQLiteTier) toResult(itemID, itemType, content, metaJSON string, score float64) types.SearchResult {
	var meta map[string]any
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &meta)
	}
	return types.SearchResult{
		ItemID:         itemID,
		ItemType:       itemType,
		Score:          score,
		ContentPreview: truncate(content, 200),
		Metadata:       meta,
		Source:         t.scope,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeFloat32Slice(blob []byte) []float32 {
	n := len(blob) / 4
	out := make([]float32, n)
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &out)
	return out
}

// EmbedAndStore embeds content with engine, validates the resulting record
// with validator, and on success normalizes the embedding to unit length
// before persisting. Validation failure short-circuits without storing.
func EmbedAndStore(ctx context.Context, tier Tier, eng embedding.Engine, validator Validator, rec *types.EmbeddingRecord) error {
	vec, err := eng.Embed(ctx, rec.Content)
	if err != nil {
		return kiwierr.Wrap(kiwierr.KindTransient, err, "embed content")
	}
	rec.Embedding = vec
	if validator != nil {
		if err := validator(rec); err != nil {
			return err
		}
	}
	rec.Embedding = embedding.Normalize(rec.Embedding)
	return tier.Store(ctx, rec)
}
