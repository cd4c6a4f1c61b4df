// Package promote implements copying chunks between layers (§4.8) and the
// proposal lifecycle built on top of it: promotion proposals are themselves
// append-only kind=meta.proposal_event chunks, never sidecar files.
package promote

import (
	"github.com/google/uuid"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/format"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/writer"
)

// ProposalEventKind is the chunk kind carrying one proposal lifecycle event.
const ProposalEventKind = "meta.proposal_event"

// ProposalStatus is a proposal's lifecycle state.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Request describes one promotion: copy ids from From to To, id-preserving.
type Request struct {
	FromPath     string
	ToPath       string
	IDs          []uint32
	SkipExisting bool
	// Move additionally tombstones each copied id's source occurrence,
	// turning the copy into a move (§4.8).
	Move bool
	// ToIsBase must be set when To is the base layer file, mirroring the
	// writer's recompaction override.
	ToIsBase bool
}

// Result reports which ids were actually copied (after SkipExisting
// filtering) versus requested.
type Result struct {
	CopiedIDs  []uint32
	SkippedIDs []uint32
}

// Promote copies the hydrated chunks named by req.IDs from req.FromPath to
// req.ToPath, preserving their ids. With SkipExisting, ids already present
// (as a latest version) in the target are left alone. With Move, each
// successfully copied id is additionally tombstoned in the source layer.
func Promote(req Request) (Result, error) {
	from, err := layer.Open(req.FromPath)
	if err != nil {
		return Result{}, err
	}
	defer from.Close()

	existing := map[uint32]bool{}
	if to, err := layer.Open(req.ToPath); err == nil {
		for _, id := range to.IDs() {
			existing[id] = true
		}
		to.Close()
	}

	var res Result
	var chunks []writer.NewChunk
	for _, id := range req.IDs {
		if req.SkipExisting && existing[id] {
			res.SkippedIDs = append(res.SkippedIDs, id)
			continue
		}

		rec, ok := from.ChunkByID(id)
		if !ok {
			return Result{}, agentsdberrors.PromotionErrorf(agentsdberrors.ErrCodeSourceNotFound, nil,
				"chunk id %d not found in %s", id, req.FromPath)
		}

		chunk, err := hydrate(from, rec)
		if err != nil {
			return Result{}, err
		}
		chunks = append(chunks, chunk)
		res.CopiedIDs = append(res.CopiedIDs, id)
	}

	if len(chunks) > 0 {
		if _, err := writer.Append(req.ToPath, chunks, writer.Options{
			AllowBaseWrite: req.ToIsBase,
			Dim:            from.Dim(),
		}); err != nil {
			return Result{}, err
		}
	}

	if req.Move && len(res.CopiedIDs) > 0 {
		tombstones := make([]writer.NewChunk, len(res.CopiedIDs))
		for i, id := range res.CopiedIDs {
			tombstones[i] = writer.NewChunk{
				Kind:    "tombstone",
				Sources: []writer.Source{{IsChunkID: true, ChunkID: id}},
			}
		}
		if _, err := writer.Append(req.FromPath, tombstones, writer.Options{Dim: from.Dim()}); err != nil {
			return Result{}, err
		}
	}

	return res, nil
}

// hydrate reads one chunk's full content, kind, author, embedding, and
// sources out of a layer handle and builds the writer.NewChunk that
// reproduces it id-preserving in another layer.
func hydrate(h *layer.Handle, rec format.ChunkRecord) (writer.NewChunk, error) {
	kind, err := h.Kind(rec)
	if err != nil {
		return writer.NewChunk{}, err
	}
	content, err := h.Content(rec)
	if err != nil {
		return writer.NewChunk{}, err
	}
	author, err := h.Author(rec)
	if err != nil {
		return writer.NewChunk{}, err
	}
	layerSources, err := h.Sources(rec)
	if err != nil {
		return writer.NewChunk{}, err
	}

	var embedding []float32
	if rec.EmbeddingRow != 0 {
		embedding, err = h.Embedding(rec.EmbeddingRow)
		if err != nil {
			return writer.NewChunk{}, err
		}
	}

	sources := make([]writer.Source, len(layerSources))
	for i, s := range layerSources {
		sources[i] = writer.Source{IsChunkID: s.IsChunkID, ChunkID: s.ChunkID, Ref: s.Ref}
	}

	return writer.NewChunk{
		ID:              rec.ID,
		Kind:            kind,
		Content:         content,
		Author:          author,
		Confidence:      rec.Confidence,
		CreatedAtUnixMs: rec.CreatedAtUnixMs,
		Embedding:       embedding,
		Sources:         sources,
	}, nil
}

// NewProposalID returns a fresh v4 proposal identifier.
func NewProposalID() string {
	return uuid.NewString()
}
