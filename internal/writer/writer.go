// Package writer implements the bulk-append operation that produces a new
// or successor layer file reflecting a prior file's content plus newly
// appended chunks, strings, embedding rows, and relationships.
package writer

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/format"
)

// Standard layer file names, in precedence order highest to lowest
// (§6 standard file names). BaseLayerFileName writes are refused unless
// AllowBaseWrite is set (§4.2 refusal).
const (
	LocalLayerFileName = "AGENTS.local.db"
	UserLayerFileName  = "AGENTS.user.db"
	DeltaLayerFileName = "AGENTS.delta.db"
	BaseLayerFileName  = "AGENTS.db"
)

// Source is a chunk's provenance reference: either another chunk id (within
// any layer) or an opaque string such as "file.rs:42".
type Source struct {
	ChunkID   uint32
	Ref       string
	IsChunkID bool
}

// NewChunk describes one chunk to append. ID of 0 assigns max(existing)+1;
// a non-zero ID supports edit (reusing an id) and tombstone (referencing an
// existing id) per §4.2.
type NewChunk struct {
	ID              uint32
	Kind            string
	Content         string
	Author          string
	Confidence      float32
	CreatedAtUnixMs uint64
	Embedding       []float32 // nil omits an embedding row (e.g. tombstones, options)
	Sources         []Source
}

// Options configures a bulk-append. Dim/ElementType/QuantScale apply only
// when creating a brand-new file; an existing file's matrix header always
// wins, and a non-zero ElementType that differs from it is refused.
// MetadataBlob is written when the file has no Layer Metadata section yet;
// an existing section is carried forward unchanged.
type Options struct {
	AllowBaseWrite bool
	Dim            uint32
	ElementType    uint32
	QuantScale     float32
	MetadataBlob   []byte
}

// Result reports the ids assigned to each appended chunk, in the order the
// chunks were given to Append.
type Result struct {
	IDs []uint32
}

// Append performs the bulk-append algorithm of §4.2: load the existing file
// (if any), intern new strings/rows/records/relationships while preserving
// every existing id and offset, serialize a full successor file, and
// publish it atomically by renaming over path.
func Append(path string, chunks []NewChunk, opts Options) (Result, error) {
	if filepath.Base(path) == BaseLayerFileName && !opts.AllowBaseWrite {
		return Result{}, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeReadOnlyTarget, nil,
			"refusing to write base layer %s without an explicit override", path)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return Result{}, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "acquire write lock for %s", path)
	}
	if !locked {
		return Result{}, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteLocked, nil,
			"%s is locked by another writer", path)
	}
	defer func() { _ = lock.Unlock() }()

	existing, err := loadExisting(path)
	if err != nil {
		return Result{}, err
	}

	b := newBuilder(existing, opts)
	ids, err := b.appendAll(chunks)
	if err != nil {
		return Result{}, err
	}

	data := b.serialize()
	if err := publish(path, data); err != nil {
		return Result{}, err
	}

	return Result{IDs: ids}, nil
}

func loadExisting(path string) (*format.File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "read existing file %s", path)
	}
	return format.Open(raw)
}

// publish writes data to a sibling temp file and renames it over path, so a
// crash mid-publish leaves either the prior valid file or the new valid
// file on disk, never a half-written one (§4.2 step 7, §5 atomicity).
func publish(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "create temp file for %s", path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below has succeeded

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "write temp file for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "sync temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "close temp file for %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return agentsdberrors.WriteErrorf(agentsdberrors.ErrCodeWriteIO, err, "publish %s", path)
	}
	return nil
}
