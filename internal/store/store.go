// Package store implements the write/edit/remove surface (§4.7): thin
// scope-validated orchestration over internal/writer's bulk-append
// algorithm. Named distinctly from the teacher's same-named package, which
// here is repurposed for this layered-store role rather than a search index.
package store

import (
	"path/filepath"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/writer"
)

// Scope identifies which of the four standard layer files a write targets.
type Scope string

const (
	ScopeLocal Scope = "local"
	ScopeDelta Scope = "delta"
	ScopeUser  Scope = "user"
	ScopeBase  Scope = "base"
)

// fileName maps a Scope to its standard file name (§6 standard file names).
func fileName(scope Scope) (string, error) {
	switch scope {
	case ScopeLocal:
		return writer.LocalLayerFileName, nil
	case ScopeDelta:
		return writer.DeltaLayerFileName, nil
	case ScopeUser:
		return writer.UserLayerFileName, nil
	case ScopeBase:
		return writer.BaseLayerFileName, nil
	default:
		return "", agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeScopeMismatch, nil, "unknown scope %q", scope)
	}
}

// Chunk is the caller-supplied payload for Append/Edit.
type Chunk struct {
	ID              uint32
	Kind            string
	Content         string
	Author          string
	Confidence      float32
	CreatedAtUnixMs uint64
	Embedding       []float32
	Sources         []writer.Source
}

// Options configures a write, including the escape hatches for the two
// scopes ordinary agent writes may not target (§4.7).
type Options struct {
	// AllowUser permits a write targeting the user scope.
	AllowUser bool
	// AllowBase permits a write targeting the base scope (recompaction).
	AllowBase bool

	Dim          uint32
	ElementType  uint32
	QuantScale   float32
	MetadataBlob []byte
}

func (o Options) toWriterOptions() writer.Options {
	return writer.Options{
		AllowBaseWrite: o.AllowBase,
		Dim:            o.Dim,
		ElementType:    o.ElementType,
		QuantScale:     o.QuantScale,
		MetadataBlob:   o.MetadataBlob,
	}
}

// validateScope checks that target's file name matches scope, and that
// user/base writes carry their required override (§4.7: "base and user
// scopes rejected for ordinary agent writes").
func validateScope(target string, scope Scope, opts Options) error {
	name, err := fileName(scope)
	if err != nil {
		return err
	}
	if filepath.Base(target) != name {
		return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeScopeMismatch, nil,
			"target %s does not match scope %q (expected file name %s)", target, scope, name)
	}

	switch scope {
	case ScopeUser:
		if !opts.AllowUser {
			return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeReadOnlyTarget, nil,
				"writes to the user scope require an explicit administrative override")
		}
	case ScopeBase:
		if !opts.AllowBase {
			return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeReadOnlyTarget, nil,
				"writes to the base scope require an explicit recompaction override")
		}
	}
	return nil
}

// Append writes a fresh chunk (or, with an explicit Chunk.ID, a specific
// id) to target under scope.
func Append(target string, scope Scope, chunk Chunk, opts Options) (uint32, error) {
	if err := validateScope(target, scope, opts); err != nil {
		return 0, err
	}

	res, err := writer.Append(target, []writer.NewChunk{{
		ID:              chunk.ID,
		Kind:            chunk.Kind,
		Content:         chunk.Content,
		Author:          chunk.Author,
		Confidence:      chunk.Confidence,
		CreatedAtUnixMs: chunk.CreatedAtUnixMs,
		Embedding:       chunk.Embedding,
		Sources:         chunk.Sources,
	}}, opts.toWriterOptions())
	if err != nil {
		return 0, err
	}
	return res.IDs[0], nil
}

// AppendMany writes a batch of chunks to target under scope in one publish,
// used by bulk operations such as import (§6 `import`).
func AppendMany(target string, scope Scope, chunks []Chunk, opts Options) ([]uint32, error) {
	if err := validateScope(target, scope, opts); err != nil {
		return nil, err
	}

	newChunks := make([]writer.NewChunk, len(chunks))
	for i, c := range chunks {
		newChunks[i] = writer.NewChunk{
			ID:              c.ID,
			Kind:            c.Kind,
			Content:         c.Content,
			Author:          c.Author,
			Confidence:      c.Confidence,
			CreatedAtUnixMs: c.CreatedAtUnixMs,
			Embedding:       c.Embedding,
			Sources:         c.Sources,
		}
	}

	res, err := writer.Append(target, newChunks, opts.toWriterOptions())
	if err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// Edit appends a new version of an existing id with updated kind/content/
// confidence. The prior record remains on disk; chunk_by_id resolves to
// this new version. When tombstoneOld is set, a tombstone chunk referencing
// the same id is also appended (§4.7).
func Edit(target string, scope Scope, chunk Chunk, tombstoneOld bool, opts Options) (uint32, error) {
	if chunk.ID == 0 {
		return 0, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeScopeMismatch, nil, "edit requires a non-zero existing chunk id")
	}
	if err := validateScope(target, scope, opts); err != nil {
		return 0, err
	}

	chunks := []writer.NewChunk{{
		ID:              chunk.ID,
		Kind:            chunk.Kind,
		Content:         chunk.Content,
		Author:          chunk.Author,
		Confidence:      chunk.Confidence,
		CreatedAtUnixMs: chunk.CreatedAtUnixMs,
		Embedding:       chunk.Embedding,
		Sources:         chunk.Sources,
	}}
	if tombstoneOld {
		chunks = append(chunks, writer.NewChunk{
			Kind:    "tombstone",
			Sources: []writer.Source{{IsChunkID: true, ChunkID: chunk.ID}},
		})
	}

	res, err := writer.Append(target, chunks, opts.toWriterOptions())
	if err != nil {
		return 0, err
	}
	return res.IDs[0], nil
}

// Remove appends a fresh tombstone chunk referencing victimID (§4.7).
// Returns the tombstone's own assigned id.
func Remove(target string, scope Scope, victimID uint32, opts Options) (uint32, error) {
	if err := validateScope(target, scope, opts); err != nil {
		return 0, err
	}

	res, err := writer.Append(target, []writer.NewChunk{{
		Kind:    "tombstone",
		Sources: []writer.Source{{IsChunkID: true, ChunkID: victimID}},
	}}, opts.toWriterOptions())
	if err != nil {
		return 0, err
	}
	return res.IDs[0], nil
}
