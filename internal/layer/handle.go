// Package layer wraps one memory-mapped agentsdb binary layer file behind a
// read-only, cheaply cloneable handle (§4.3). Handles share the underlying
// mapping by refcount so callers can pass them across goroutines without
// re-mapping or re-parsing the section table.
package layer

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/format"
)

// mapping is the shared state behind one or more cloned Handles.
type mapping struct {
	path string
	f    *os.File
	mm   mmap.MMap
	file *format.File
	refs int32
}

// Handle is a read-only view over one layer file's parsed section table.
// The zero value is not usable; construct with Open or Clone.
type Handle struct {
	m         *mapping
	closeOnce sync.Once
}

// Open memory-maps path read-only and parses its section table. The
// mapping persists until every Handle sharing it (the original plus any
// Clones) has been Closed.
func Open(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "open layer file %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "stat layer file %s", path)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil, "layer file %s is empty", path)
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, err, "memory-map layer file %s", path)
	}

	pf, err := format.Open(mm)
	if err != nil {
		_ = mm.Unmap()
		f.Close()
		return nil, err
	}

	m := &mapping{path: path, f: f, mm: mm, file: pf, refs: 1}
	return &Handle{m: m}, nil
}

// Clone returns a new Handle over the same underlying mapping, bumping its
// refcount. Each Handle returned by Open or Clone must be Closed exactly
// once.
func (h *Handle) Clone() *Handle {
	atomic.AddInt32(&h.m.refs, 1)
	return &Handle{m: h.m}
}

// Close releases this Handle's share of the mapping. The mapping is
// unmapped and its file descriptor closed only when the last outstanding
// Handle closes. Safe to call more than once; only the first call has
// effect.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if atomic.AddInt32(&h.m.refs, -1) > 0 {
			return
		}
		if uerr := h.m.mm.Unmap(); uerr != nil {
			err = agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, uerr, "unmap layer file %s", h.m.path)
			return
		}
		if cerr := h.m.f.Close(); cerr != nil {
			err = agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, cerr, "close layer file %s", h.m.path)
		}
	})
	return err
}

// Path returns the filesystem path this handle was opened from.
func (h *Handle) Path() string { return h.m.path }

// ChunkCount returns the number of chunk records in the layer, including
// superseded and tombstoned versions.
func (h *Handle) ChunkCount() int { return h.m.file.ChunkTable().Count() }

// ChunkByIndex returns the chunk record at position i in write order.
func (h *Handle) ChunkByIndex(i int) (format.ChunkRecord, error) {
	return h.m.file.ChunkTable().ByIndex(i)
}

// ChunkByID resolves id to its latest (highest-precedence-within-this-layer)
// record.
func (h *Handle) ChunkByID(id uint32) (format.ChunkRecord, bool) {
	return h.m.file.ChunkTable().ByID(id)
}

// IDs returns the set of distinct chunk ids present in this layer.
func (h *Handle) IDs() []uint32 { return h.m.file.ChunkTable().IDs() }

// Content resolves a chunk record's content string.
func (h *Handle) Content(rec format.ChunkRecord) (string, error) {
	return h.m.file.Dictionary().String(rec.ContentStrID)
}

// Kind resolves a chunk record's kind string.
func (h *Handle) Kind(rec format.ChunkRecord) (string, error) {
	return h.m.file.Dictionary().String(rec.KindStrID)
}

// Author resolves a chunk record's author string.
func (h *Handle) Author(rec format.ChunkRecord) (string, error) {
	return h.m.file.Dictionary().String(rec.AuthorStrID)
}

// Embedding returns the dequantized embedding vector for a 1-based matrix
// row. row == 0 means the chunk carries no embedding.
func (h *Handle) Embedding(row uint32) ([]float32, error) {
	return h.m.file.EmbeddingMatrix().Row(row)
}

// Dim returns the layer's embedding dimension.
func (h *Handle) Dim() uint32 { return h.m.file.EmbeddingMatrix().Dim() }

// Source is one resolved provenance reference: either another chunk id
// within this layer, or an opaque string such as "file.rs:42".
type Source struct {
	IsChunkID bool
	ChunkID   uint32
	Ref       string
}

// Sources lazily resolves a chunk record's relationship range. Chunks with
// RelCount == 0 resolve with no lookup at all.
func (h *Handle) Sources(rec format.ChunkRecord) ([]Source, error) {
	if rec.RelCount == 0 {
		return nil, nil
	}
	rels, ok := h.m.file.Relationships()
	if !ok {
		return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"chunk %d references relationships but layer has no relationships section", rec.ID)
	}
	entries, err := rels.Range(rec.RelStart, rec.RelCount)
	if err != nil {
		return nil, err
	}

	out := make([]Source, len(entries))
	for i, e := range entries {
		switch e.Kind {
		case format.RelKindChunkRef:
			out[i] = Source{IsChunkID: true, ChunkID: e.Value}
		case format.RelKindStringRef:
			ref, err := h.m.file.Dictionary().String(e.Value)
			if err != nil {
				return nil, err
			}
			out[i] = Source{Ref: ref}
		default:
			return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
				"unknown relationship kind %d", e.Kind)
		}
	}
	return out, nil
}

// Metadata returns the layer's raw Layer Metadata JSON blob, if the section
// is present. Parsing the blob into an embedding profile is left to
// internal/query, which owns that schema.
func (h *Handle) Metadata() ([]byte, bool) {
	meta, ok := h.m.file.LayerMetadata()
	if !ok {
		return nil, false
	}
	return meta.Blob(), true
}
