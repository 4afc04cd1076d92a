// Package search implements a BM25 keyword ranker over an inverted index
// (C14). No full-text library appears anywhere in the example pack, so
// this is a small self-contained algorithm rather than an unneeded import.
package search

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75

	phraseMatchBonus = 1.5
)

var tokenRE = regexp.MustCompile(`[a-z0-9_]{2,}`)

// defaultFieldWeights are applied when a document's own weights don't
// override a field.
var defaultFieldWeights = map[string]float64{
	"title": 5.0, "name": 5.0,
	"description": 2.0, "summary": 2.0,
	"category": 1.5, "tags": 1.5,
	"content": 1.0, "body": 1.0,
}

func tokenize(s string) []string {
	return tokenRE.FindAllString(strings.ToLower(s), -1)
}

// document is one indexed item: per-field term counts plus enough raw
// state to recompute BM25 contributions and the phrase-match bonus.
type document struct {
	itemID      string
	itemType    string
	fields      map[string]map[string]int // field -> token -> count
	rawFields   map[string]string
	length      int // total token count across all fields
	fieldWeights map[string]float64
	metadata    map[string]any
	source      types.Scope
}

// Index is an in-memory BM25 inverted index over a set of documents within
// one scope tier.
type Index struct {
	source types.Scope

	docs map[string]*document
	// postings[token][itemID] = term count in that document (across all fields,
	// used only to compute document frequency for idf).
	postings map[string]map[string]int
	idf      map[string]float64
	totalLen int
}

// New creates an empty Index tagged with the tier it represents.
func New(source types.Scope) *Index {
	return &Index{
		source:   source,
		docs:     make(map[string]*document),
		postings: make(map[string]map[string]int),
		idf:      make(map[string]float64),
	}
}

// IndexDocument inserts or replaces a document and incrementally recomputes
// idf for affected terms. fieldWeights may override defaultFieldWeights
// per-field; a nil map uses all defaults.
func (idx *Index) IndexDocument(itemID, itemType string, rawFields map[string]string, fieldWeights map[string]float64, metadata map[string]any) {
	idx.removeDocument(itemID)

	doc := &document{
		itemID:       itemID,
		itemType:     itemType,
		fields:       make(map[string]map[string]int),
		rawFields:    rawFields,
		fieldWeights: fieldWeights,
		metadata:     metadata,
		source:       idx.source,
	}

	affected := make(map[string]struct{})
	for field, text := range rawFields {
		tokens := tokenize(text)
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
			affected[tok] = struct{}{}
		}
		doc.fields[field] = counts
		doc.length += len(tokens)
	}

	idx.docs[itemID] = doc
	idx.totalLen += doc.length

	// Merge per-field token counts into one per-document term frequency
	// used purely for document-frequency bookkeeping.
	docTermCounts := make(map[string]int)
	for _, counts := range doc.fields {
		for tok, c := range counts {
			docTermCounts[tok] += c
		}
	}
	for tok, c := range docTermCounts {
		if idx.postings[tok] == nil {
			idx.postings[tok] = make(map[string]int)
		}
		idx.postings[tok][itemID] = c
		affected[tok] = struct{}{}
	}

	idx.recomputeIDF(affected)
}

func (idx *Index) removeDocument(itemID string) {
	old, ok := idx.docs[itemID]
	if !ok {
		return
	}
	idx.totalLen -= old.length
	affected := make(map[string]struct{})
	for tok, postings := range idx.postings {
		if _, ok := postings[itemID]; ok {
			delete(postings, itemID)
			affected[tok] = struct{}{}
		}
	}
	delete(idx.docs, itemID)
	idx.recomputeIDF(affected)
}

// RemoveDocument deletes a document from the index and recomputes idf for
// the terms it contributed.
func (idx *Index) RemoveDocument(itemID string) { idx.removeDocument(itemID) }

func (idx *Index) recomputeIDF(terms map[string]struct{}) {
	n := float64(len(idx.docs))
	for tok := range terms {
		df := float64(len(idx.postings[tok]))
		if df == 0 {
			delete(idx.idf, tok)
			delete(idx.postings, tok)
			continue
		}
		idx.idf[tok] = math.Log((n-df+0.5)/(df+0.5) + 1)
	}
}

func (idx *Index) avgDocLength() float64 {
	if len(idx.docs) == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(len(idx.docs))
}

func (idx *Index) weightFor(doc *document, field string) float64 {
	if doc.fieldWeights != nil {
		if w, ok := doc.fieldWeights[field]; ok {
			return w
		}
	}
	if w, ok := defaultFieldWeights[field]; ok {
		return w
	}
	return 1.0
}

// Search ranks all documents against query using BM25 per field, summed
// with field weights, then multiplied by a 1.5 phrase-match bonus when the
// raw query string appears verbatim (case-insensitive) in any raw field.
// Results below minScore are discarded; the rest sorted descending and
// truncated to limit.
func (idx *Index) Search(query string, minScore float64, limit int) []types.SearchResult {
	terms := tokenize(query)
	avgLen := idx.avgDocLength()
	lowerQuery := strings.ToLower(query)

	var results []types.SearchResult
	for _, doc := range idx.docs {
		score := idx.scoreDocument(doc, terms, avgLen)
		if score <= 0 {
			continue
		}
		if containsPhrase(doc.rawFields, lowerQuery) {
			score *= phraseMatchBonus
		}
		if score < minScore {
			continue
		}
		results = append(results, types.SearchResult{
			ItemID:         doc.itemID,
			ItemType:       doc.itemType,
			Score:          score,
			ContentPreview: preview(doc.rawFields),
			Metadata:       doc.metadata,
			Source:         doc.source,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (idx *Index) scoreDocument(doc *document, terms []string, avgLen float64) float64 {
	var total float64
	for field, counts := range doc.fields {
		fieldLen := 0
		for _, c := range counts {
			fieldLen += c
		}
		weight := idx.weightFor(doc, field)
		for _, term := range terms {
			tf := float64(counts[term])
			if tf == 0 {
				continue
			}
			idf, ok := idx.idf[term]
			if !ok {
				continue
			}
			numerator := tf * (bm25K1 + 1)
			denominator := tf + bm25K1*(1-bm25B+bm25B*float64(fieldLen)/maxf(avgLen, 1))
			total += weight * idf * numerator / denominator
		}
	}
	return total
}

func containsPhrase(rawFields map[string]string, lowerQuery string) bool {
	if lowerQuery == "" {
		return false
	}
	for _, v := range rawFields {
		if strings.Contains(strings.ToLower(v), lowerQuery) {
			return true
		}
	}
	return false
}

func preview(rawFields map[string]string) string {
	for _, key := range []string{"content", "body", "description", "summary", "title", "name"} {
		if v, ok := rawFields[key]; ok && v != "" {
			return truncate(v, 200)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
