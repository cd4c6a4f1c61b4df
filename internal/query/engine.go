// Package query implements the multi-layer brute-force vector search engine
// (§4.6): profile-compatibility checks, concurrent per-layer scans,
// precedence-based dedup, tombstone/kind filtering, and top-k selection with
// a deterministic tie-break.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentsdb/agentsdb/internal/embed"
	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/layer"
)

// previewLength bounds the hydrated content preview (§4.6 step 8).
const previewLength = 200

// Query describes one search request. Either Text (embedded via the
// engine's Embedder) or a precomputed Vector must be supplied.
type Query struct {
	Text           string
	Vector         []float32
	K              int
	Kinds          []string
	IncludeRemoved bool
}

// Result is one hydrated, ranked search hit.
type Result struct {
	ChunkID         uint32
	LayerIndex      int
	LayerPath       string
	Score           float32
	Kind            string
	Content         string
	Author          string
	CreatedAtUnixMs uint64
	Sources         []layer.Source
	Preview         string
}

// Engine searches a fixed, ordered set of open layers. Layers must be given
// in precedence order, highest first (local > user > delta > base).
type Engine struct {
	Layers   []*layer.Handle
	Embedder embed.Embedder
}

// layerMetadataDoc mirrors the on-disk Layer Metadata JSON blob (§4.1):
// {backend, model, revision, dim, output_norm}, plus cache_key_alg.
type layerMetadataDoc struct {
	Backend      string `json:"backend"`
	Model        string `json:"model"`
	Revision     string `json:"revision"`
	Dim          int    `json:"dim"`
	OutputNorm   string `json:"output_norm"`
	CacheKeyAlg  string `json:"cache_key_alg"`
}

// candidate is one layer's raw scan hit before merge/filter/hydrate.
type candidate struct {
	chunkID    uint32
	layerIndex int
	score      float32
}

// Search runs the full §4.6 algorithm and returns up to q.K hydrated
// results, ranked deterministically.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if len(e.Layers) == 0 {
		return nil, agentsdberrors.QueryErrorf(agentsdberrors.ErrCodeNoLayers, nil, "search requires at least one open layer")
	}
	if q.K <= 0 {
		return nil, agentsdberrors.QueryErrorf(agentsdberrors.ErrCodeInvalidK, nil, "k must be positive, got %d", q.K)
	}
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, agentsdberrors.QueryErrorf(agentsdberrors.ErrCodeEmptyQuery, nil, "query must supply Text or a precomputed Vector")
	}

	outputNorm, err := e.checkProfileCompatibility()
	if err != nil {
		return nil, err
	}

	vec := q.Vector
	if vec == nil {
		vec, err = e.Embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
	}
	vec = normalize(vec, outputNorm)

	perLayer := make([][]candidate, len(e.Layers))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range e.Layers {
		i, h := i, h
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			cands, err := scanLayer(h, i, vec)
			if err != nil {
				return err
			}
			perLayer[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Single-threaded merge, independent of goroutine completion order, so
	// the tie-break stays deterministic (§8 property 7).
	merged := map[uint32]candidate{}
	order := make([]uint32, 0)
	for _, layerCands := range perLayer {
		for _, c := range layerCands {
			if _, exists := merged[c.chunkID]; exists {
				continue
			}
			merged[c.chunkID] = c
			order = append(order, c.chunkID)
		}
	}

	removed, err := tombstonedIDs(e.Layers)
	if err != nil {
		return nil, err
	}

	kindFilter := make(map[string]bool, len(q.Kinds))
	for _, k := range q.Kinds {
		kindFilter[k] = true
	}

	var filtered []candidate
	for _, id := range order {
		c := merged[id]
		h := e.Layers[c.layerIndex]
		rec, ok := h.ChunkByID(id)
		if !ok {
			continue
		}
		kind, err := h.Kind(rec)
		if err != nil {
			return nil, err
		}

		if removed[id] && !q.IncludeRemoved {
			continue
		}
		if len(kindFilter) > 0 {
			if !kindFilter[kind] {
				continue
			}
		} else if kind == "tombstone" || kind == "options" {
			continue
		}

		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.layerIndex != b.layerIndex {
			return a.layerIndex < b.layerIndex
		}
		return a.chunkID < b.chunkID
	})

	if len(filtered) > q.K {
		filtered = filtered[:q.K]
	}

	results := make([]Result, 0, len(filtered))
	for _, c := range filtered {
		h := e.Layers[c.layerIndex]
		rec, _ := h.ChunkByID(c.chunkID)

		kind, err := h.Kind(rec)
		if err != nil {
			return nil, err
		}
		content, err := h.Content(rec)
		if err != nil {
			return nil, err
		}
		author, err := h.Author(rec)
		if err != nil {
			return nil, err
		}
		srcs, err := h.Sources(rec)
		if err != nil {
			return nil, err
		}

		results = append(results, Result{
			ChunkID:         c.chunkID,
			LayerIndex:      c.layerIndex,
			LayerPath:       h.Path(),
			Score:           c.score,
			Kind:            kind,
			Content:         content,
			Author:          author,
			CreatedAtUnixMs: rec.CreatedAtUnixMs,
			Sources:         srcs,
			Preview:         preview(content),
		})
	}
	return results, nil
}

// scanLayer computes a similarity score for every chunk in h that still
// carries its own embedding row and is the latest version of its id.
func scanLayer(h *layer.Handle, layerIndex int, query []float32) ([]candidate, error) {
	n := h.ChunkCount()
	out := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		rec, err := h.ChunkByIndex(i)
		if err != nil {
			return nil, err
		}
		latest, ok := h.ChunkByID(rec.ID)
		if !ok || latest != rec {
			continue
		}
		if rec.EmbeddingRow == 0 {
			continue
		}

		row, err := h.Embedding(rec.EmbeddingRow)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{chunkID: rec.ID, layerIndex: layerIndex, score: dot(query, row)})
	}
	return out, nil
}

// tombstonedIDs collects every id referenced by a tombstone chunk's sources,
// across all queried layers — a tombstone suppresses its victim regardless
// of which layer holds the surviving embedded occurrence.
func tombstonedIDs(layers []*layer.Handle) (map[uint32]bool, error) {
	removed := map[uint32]bool{}
	for _, h := range layers {
		n := h.ChunkCount()
		for i := 0; i < n; i++ {
			rec, err := h.ChunkByIndex(i)
			if err != nil {
				return nil, err
			}
			latest, ok := h.ChunkByID(rec.ID)
			if !ok || latest != rec {
				continue
			}
			kind, err := h.Kind(rec)
			if err != nil {
				return nil, err
			}
			if kind != "tombstone" {
				continue
			}
			srcs, err := h.Sources(rec)
			if err != nil {
				return nil, err
			}
			for _, s := range srcs {
				if s.IsChunkID {
					removed[s.ChunkID] = true
				}
			}
		}
	}
	return removed, nil
}

// checkProfileCompatibility verifies every layer's embedding profile is
// byte-identical and returns the shared output_norm (§4.5, §8 property 6).
// A layer without a Layer Metadata section falls back to a default profile
// identifying the deterministic hash backend at that layer's own matrix
// dimension and "none" normalization (§9 Open Question).
func (e *Engine) checkProfileCompatibility() (string, error) {
	var canonical []byte
	var outputNorm string
	for i, h := range e.Layers {
		profile, norm, err := resolveProfile(h)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(profile)
		if err != nil {
			return "", agentsdberrors.InternalErrorf(err, "marshal embedding profile for %s", h.Path())
		}
		if i == 0 {
			canonical = b
			outputNorm = norm
			continue
		}
		if !bytes.Equal(b, canonical) {
			return "", agentsdberrors.SchemaErrorf(agentsdberrors.ErrCodeProfileMismatch, nil,
				"layer %s has embedding profile %s, incompatible with %s", h.Path(), b, canonical)
		}
	}
	return outputNorm, nil
}

// resolveProfile parses h's Layer Metadata blob into the canonical
// compatibility profile, or returns the default profile when the section is
// absent.
func resolveProfile(h *layer.Handle) (embed.Profile, string, error) {
	blob, ok := h.Metadata()
	if !ok {
		return embed.Profile{V: 1, Backend: "hash", Dim: int(h.Dim())}, "none", nil
	}

	var doc layerMetadataDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return embed.Profile{}, "", agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, err,
			"layer metadata blob in %s is not valid JSON", h.Path())
	}
	outputNorm := doc.OutputNorm
	if outputNorm == "" {
		outputNorm = "none"
	}
	return embed.Profile{V: 1, Backend: doc.Backend, Model: doc.Model, Revision: doc.Revision, Dim: doc.Dim}, outputNorm, nil
}

// normalize L2-normalizes v when outputNorm == "l2"; otherwise returns v
// unchanged, matching the layer's declared normalization (§4.6 step 2).
func normalize(v []float32, outputNorm string) []float32 {
	if outputNorm != "l2" {
		return v
	}
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	scale := 1.0 / math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * scale)
	}
	return out
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// preview collapses newlines and truncates to previewLength runes (§4.6 step 8).
func preview(content string) string {
	collapsed := strings.ReplaceAll(strings.ReplaceAll(content, "\r\n", " "), "\n", " ")
	r := []rune(collapsed)
	if len(r) > previewLength {
		return string(r[:previewLength])
	}
	return collapsed
}
