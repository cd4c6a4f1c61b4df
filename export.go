package agentsdb

import (
	"bytes"
	"encoding/json"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/store"
	"github.com/agentsdb/agentsdb/internal/writer"
)

// ExportFormat selects the export/import byte encoding (`export`, `import`).
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// RedactMode controls which hydrated fields export omits (`export`).
// Redacted fields are omitted rather than nulled where possible.
type RedactMode string

const (
	RedactNone       RedactMode = "none"
	RedactEmbeddings RedactMode = "embeddings"
	RedactContent    RedactMode = "content"
	RedactBoth       RedactMode = "both"
)

// SourceRecord is one chunk's provenance reference in the export schema.
type SourceRecord struct {
	IsChunkID bool   `json:"is_chunk_id"`
	ChunkID   uint32 `json:"chunk_id,omitempty"`
	Ref       string `json:"ref,omitempty"`
}

// ExportRecord is one chunk's export representation: `{id, kind, author,
// confidence, created_at_unix_ms, content, sources[], embedding?}`.
type ExportRecord struct {
	ID              uint32         `json:"id"`
	Kind            string         `json:"kind"`
	Author          string         `json:"author"`
	Confidence      float32        `json:"confidence"`
	CreatedAtUnixMs uint64         `json:"created_at_unix_ms"`
	Content         string         `json:"content,omitempty"`
	Sources         []SourceRecord `json:"sources,omitempty"`
	Embedding       []float32      `json:"embedding,omitempty"`
}

// Export serializes h's latest-version chunks to JSON or NDJSON, applying
// redact (`export`).
func (s *Store) Export(h *layer.Handle, format ExportFormat, redact RedactMode) ([]byte, error) {
	records, err := exportRecords(h, redact)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatNDJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return nil, agentsdberrors.InternalErrorf(err, "encode ndjson export record")
			}
		}
		return buf.Bytes(), nil

	case ExportFormatJSON, "":
		data, err := json.Marshal(records)
		if err != nil {
			return nil, agentsdberrors.InternalErrorf(err, "marshal json export")
		}
		return data, nil

	default:
		return nil, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeScopeMismatch, nil, "unknown export format %q", format)
	}
}

func exportRecords(h *layer.Handle, redact RedactMode) ([]ExportRecord, error) {
	redactContent := redact == RedactContent || redact == RedactBoth
	redactEmbedding := redact == RedactEmbeddings || redact == RedactBoth

	var out []ExportRecord
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
		author, err := h.Author(rec)
		if err != nil {
			return nil, err
		}
		srcs, err := h.Sources(rec)
		if err != nil {
			return nil, err
		}

		er := ExportRecord{
			ID:              rec.ID,
			Kind:            kind,
			Author:          author,
			Confidence:      rec.Confidence,
			CreatedAtUnixMs: rec.CreatedAtUnixMs,
		}
		for _, src := range srcs {
			er.Sources = append(er.Sources, SourceRecord{IsChunkID: src.IsChunkID, ChunkID: src.ChunkID, Ref: src.Ref})
		}

		if !redactContent {
			content, err := h.Content(rec)
			if err != nil {
				return nil, err
			}
			er.Content = content
		}
		if !redactEmbedding && rec.EmbeddingRow != 0 {
			embedding, err := h.Embedding(rec.EmbeddingRow)
			if err != nil {
				return nil, err
			}
			er.Embedding = embedding
		}

		out = append(out, er)
	}
	return out, nil
}

// ImportOptions configures `import`.
type ImportOptions struct {
	DryRun bool
	// Dedupe skips any record whose id is already present in target.
	Dedupe bool
	// PreserveIDs keeps each record's id; otherwise ids are reassigned by
	// the writer (max(existing)+1 per record, in export order).
	PreserveIDs bool
	AllowBase   bool
	AllowUser   bool
}

// ImportResult reports what Import did (`import`).
type ImportResult struct {
	Imported int
	Skipped  int
	DryRun   bool
}

// Import parses data as format and appends it to target under scope
// (`import`).
func (s *Store) Import(target string, scope Scope, format ExportFormat, data []byte, opts ImportOptions) (ImportResult, error) {
	records, err := parseExport(data, format)
	if err != nil {
		return ImportResult{}, err
	}

	existing := map[uint32]bool{}
	if opts.Dedupe {
		if h, err := layer.Open(target); err == nil {
			for _, id := range h.IDs() {
				existing[id] = true
			}
			h.Close()
		}
	}

	var chunks []store.Chunk
	skipped := 0
	for _, r := range records {
		if opts.Dedupe && existing[r.ID] {
			skipped++
			continue
		}

		id := r.ID
		if !opts.PreserveIDs {
			id = 0
		}

		sources := make([]writer.Source, len(r.Sources))
		for i, src := range r.Sources {
			sources[i] = writer.Source{IsChunkID: src.IsChunkID, ChunkID: src.ChunkID, Ref: src.Ref}
		}

		chunks = append(chunks, store.Chunk{
			ID:              id,
			Kind:            r.Kind,
			Content:         r.Content,
			Author:          r.Author,
			Confidence:      r.Confidence,
			CreatedAtUnixMs: r.CreatedAtUnixMs,
			Embedding:       r.Embedding,
			Sources:         sources,
		})
	}

	if opts.DryRun {
		return ImportResult{Imported: len(chunks), Skipped: skipped, DryRun: true}, nil
	}

	if len(chunks) > 0 {
		if _, err := store.AppendMany(target, scope, chunks, store.Options{
			AllowBase: opts.AllowBase,
			AllowUser: opts.AllowUser,
			Dim:       importDim(chunks),
		}); err != nil {
			return ImportResult{}, err
		}
	}

	return ImportResult{Imported: len(chunks), Skipped: skipped}, nil
}

// importDim infers the embedding dimension a fresh target file should be
// created with, from the first record that carries one. A target that
// already exists ignores this (the writer keeps its own on-disk dimension);
// it only matters when import is creating the file from nothing.
func importDim(chunks []store.Chunk) uint32 {
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			return uint32(len(c.Embedding))
		}
	}
	return 0
}

func parseExport(data []byte, format ExportFormat) ([]ExportRecord, error) {
	switch format {
	case ExportFormatNDJSON:
		var out []ExportRecord
		dec := json.NewDecoder(bytes.NewReader(data))
		for dec.More() {
			var r ExportRecord
			if err := dec.Decode(&r); err != nil {
				return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, err, "parse ndjson import payload")
			}
			out = append(out, r)
		}
		return out, nil

	case ExportFormatJSON, "":
		var out []ExportRecord
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, err, "parse json import payload")
		}
		return out, nil

	default:
		return nil, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeScopeMismatch, nil, "unknown import format %q", format)
	}
}
