// Package agentsdb is the root-level facade over the internal layered,
// append-only context store: a single import (agentsdb.Store) in place of
// reaching into internal/ for format, writer, layer, embed, options, query,
// and promote (§6 public operations table).
package agentsdb

import (
	"context"

	"github.com/agentsdb/agentsdb/internal/config"
	"github.com/agentsdb/agentsdb/internal/embed"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/options"
	"github.com/agentsdb/agentsdb/internal/promote"
	"github.com/agentsdb/agentsdb/internal/query"
	"github.com/agentsdb/agentsdb/internal/store"
)

// Well-known kind constants (§3 Supplemental kind vocabulary). kind remains
// an open string field; any other value round-trips unchanged.
const (
	KindNote           = "note"
	KindInvariant      = "invariant"
	KindDecision       = "decision"
	KindDerivedSummary = "derived-summary"
	KindOptions        = options.OptionsKind
	KindTombstone      = "tombstone"
	KindProposalEvent  = promote.ProposalEventKind
)

// Re-exported scope and lifecycle types, so callers need only import this
// package.
type (
	Scope          = store.Scope
	ProposalStatus = promote.ProposalStatus
	ProposalEvent  = promote.ProposalEvent
)

const (
	ScopeLocal = store.ScopeLocal
	ScopeDelta = store.ScopeDelta
	ScopeUser  = store.ScopeUser
	ScopeBase  = store.ScopeBase

	ProposalPending  = promote.ProposalPending
	ProposalAccepted = promote.ProposalAccepted
	ProposalRejected = promote.ProposalRejected
)

// Store is the facade over a process-level configuration and embedder,
// through which every layered-store operation is performed.
type Store struct {
	cfg      *config.Config
	embedder embed.Embedder
}

// NewStore builds a Store from a process configuration and a constructed
// embedder (see internal/embed.New). The caller owns the embedder's
// lifecycle and must Close it when done.
func NewStore(cfg *config.Config, embedder embed.Embedder) *Store {
	return &Store{cfg: cfg, embedder: embedder}
}

// OpenLayer opens a single layer file for reading (`open_layer`).
func (s *Store) OpenLayer(path string) (*layer.Handle, error) {
	return layer.Open(path)
}

// ChunkSummary is one row of a list_chunks page.
type ChunkSummary struct {
	ID              uint32
	Kind            string
	Author          string
	Confidence      float32
	CreatedAtUnixMs uint64
	Removed         bool
}

// Chunk is one chunk's full hydrated content (`get_chunk`).
type Chunk struct {
	ID              uint32
	Kind            string
	Author          string
	Confidence      float32
	CreatedAtUnixMs uint64
	Content         string
	Sources         []layer.Source
	Embedding       []float32
}

// ListChunks pages through h's latest-version chunks in write order
// (`list_chunks`).
func (s *Store) ListChunks(h *layer.Handle, offset, limit int, includeRemoved bool, kind string) ([]ChunkSummary, int, error) {
	removed, err := removedSet(h)
	if err != nil {
		return nil, 0, err
	}

	var all []ChunkSummary
	n := h.ChunkCount()
	for i := 0; i < n; i++ {
		rec, err := h.ChunkByIndex(i)
		if err != nil {
			return nil, 0, err
		}
		latest, ok := h.ChunkByID(rec.ID)
		if !ok || latest != rec {
			continue
		}
		k, err := h.Kind(rec)
		if err != nil {
			return nil, 0, err
		}
		isRemoved := removed[rec.ID]
		if isRemoved && !includeRemoved {
			continue
		}
		if kind != "" && k != kind {
			continue
		}
		author, err := h.Author(rec)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, ChunkSummary{
			ID:              rec.ID,
			Kind:            k,
			Author:          author,
			Confidence:      rec.Confidence,
			CreatedAtUnixMs: rec.CreatedAtUnixMs,
			Removed:         isRemoved,
		})
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// GetChunk resolves one chunk's full content by id (`get_chunk`).
func (s *Store) GetChunk(h *layer.Handle, id uint32) (*Chunk, error) {
	rec, ok := h.ChunkByID(id)
	if !ok {
		return nil, nil
	}

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
	sources, err := h.Sources(rec)
	if err != nil {
		return nil, err
	}

	var embedding []float32
	if rec.EmbeddingRow != 0 {
		embedding, err = h.Embedding(rec.EmbeddingRow)
		if err != nil {
			return nil, err
		}
	}

	return &Chunk{
		ID:              rec.ID,
		Kind:            kind,
		Author:          author,
		Confidence:      rec.Confidence,
		CreatedAtUnixMs: rec.CreatedAtUnixMs,
		Content:         content,
		Sources:         sources,
		Embedding:       embedding,
	}, nil
}

// Search runs the multi-layer query engine over layers, ordered highest
// precedence first (`search`).
func (s *Store) Search(ctx context.Context, layers []*layer.Handle, q query.Query) ([]query.Result, error) {
	engine := &query.Engine{Layers: layers, Embedder: s.embedder}
	return engine.Search(ctx, q)
}

// Append writes a fresh chunk to target under scope (`append`).
func (s *Store) Append(target string, scope Scope, chunk store.Chunk, opts store.Options) (uint32, error) {
	return store.Append(target, scope, chunk, opts)
}

// Edit appends a new version of an existing chunk (`edit`, the append
// corollary of §4.7 not separately named in the public operations table
// but required to support the write path documented in §4.7).
func (s *Store) Edit(target string, scope Scope, chunk store.Chunk, tombstoneOld bool, opts store.Options) (uint32, error) {
	return store.Edit(target, scope, chunk, tombstoneOld, opts)
}

// Remove appends a fresh tombstone chunk referencing id (`remove`).
func (s *Store) Remove(target string, scope Scope, id uint32, opts store.Options) (uint32, error) {
	return store.Remove(target, scope, id, opts)
}

// Promote copies chunks between layers (`promote`).
func (s *Store) Promote(req promote.Request) (promote.Result, error) {
	return promote.Promote(req)
}

// Propose appends a pending proposal event (`propose`).
func (s *Store) Propose(target string, event ProposalEvent, createdAtUnixMs uint64) (string, error) {
	return promote.Propose(target, event, createdAtUnixMs)
}

// Accept decides a pending proposal as accepted (`accept`). The caller is
// responsible for having already run Promote; Accept only records the
// outcome.
func (s *Store) Accept(layers []*layer.Handle, target, proposalID, decidedBy, reason string, decidedAtUnixMs uint64) error {
	return promote.Decide(layers, target, proposalID, ProposalAccepted, decidedBy, reason, decidedAtUnixMs)
}

// Reject decides a pending proposal as rejected (`reject`).
func (s *Store) Reject(layers []*layer.Handle, target, proposalID, decidedBy, reason string, decidedAtUnixMs uint64) error {
	return promote.Decide(layers, target, proposalID, ProposalRejected, decidedBy, reason, decidedAtUnixMs)
}

// ListProposals resolves every known proposal's latest state.
func (s *Store) ListProposals(layers []*layer.Handle) ([]ProposalEvent, error) {
	return promote.List(layers)
}

// OptionsShow rolls up every layer's options chunks and fills any leaf left
// unset with the process configuration's default (`options_show`).
func (s *Store) OptionsShow(layers []*layer.Handle) (*options.EffectiveOptions, options.Provenance, error) {
	opts, prov, err := options.RollUp(layers)
	if err != nil {
		return nil, nil, err
	}
	options.ApplyConfigDefaults(opts, prov, s.cfg)
	return opts, prov, nil
}

// removedSet collects every id tombstoned anywhere in h, mirroring
// internal/query's global tombstone-suppression interpretation.
func removedSet(h *layer.Handle) (map[uint32]bool, error) {
	removed := map[uint32]bool{}
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
		if kind != KindTombstone {
			continue
		}
		srcs, err := h.Sources(rec)
		if err != nil {
			return nil, err
		}
		for _, src := range srcs {
			if src.IsChunkID {
				removed[src.ChunkID] = true
			}
		}
	}
	return removed, nil
}
