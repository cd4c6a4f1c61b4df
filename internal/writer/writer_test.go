package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/format"
)

func TestAppend_FreshFile_AssignsSequentialIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")

	res, err := Append(path, []NewChunk{
		{Kind: "note", Content: "first", Author: "alice", Confidence: 0.9, CreatedAtUnixMs: 1000, Embedding: []float32{1, 0, 0}},
		{Kind: "note", Content: "second", Author: "alice", Confidence: 0.8, CreatedAtUnixMs: 1001, Embedding: []float32{0, 1, 0}},
	}, Options{Dim: 3, ElementType: format.ElementTypeF32, QuantScale: 1.0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, res.IDs)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := format.Open(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, f.ChunkTable().Count())
	rec, ok := f.ChunkTable().ByID(2)
	require.True(t, ok)
	content, err := f.Dictionary().String(rec.ContentStrID)
	require.NoError(t, err)
	assert.Equal(t, "second", content)

	row, err := f.EmbeddingMatrix().Row(rec.EmbeddingRow)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 1, 0}, row, 0.0001)
}

func TestAppend_SecondCall_PreservesExistingIDsAndAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")

	_, err := Append(path, []NewChunk{
		{Kind: "note", Content: "first", Embedding: []float32{1, 0}},
	}, Options{Dim: 2})
	require.NoError(t, err)

	res, err := Append(path, []NewChunk{
		{Kind: "note", Content: "second", Embedding: []float32{0, 1}},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, res.IDs)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := format.Open(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ChunkTable().Count())

	rec1, ok := f.ChunkTable().ByID(1)
	require.True(t, ok)
	content1, err := f.Dictionary().String(rec1.ContentStrID)
	require.NoError(t, err)
	assert.Equal(t, "first", content1)

	rec2, ok := f.ChunkTable().ByID(2)
	require.True(t, ok)
	content2, err := f.Dictionary().String(rec2.ContentStrID)
	require.NoError(t, err)
	assert.Equal(t, "second", content2)
}

func TestAppend_ExplicitID_EditsInPlaceBySupersession(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")

	_, err := Append(path, []NewChunk{
		{Kind: "note", Content: "v1", Embedding: []float32{1, 0}},
	}, Options{Dim: 2})
	require.NoError(t, err)

	res, err := Append(path, []NewChunk{
		{ID: 1, Kind: "note", Content: "v2", Embedding: []float32{0, 1}},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, res.IDs)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := format.Open(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, f.ChunkTable().Count()) // both versions retained, latest wins
	rec, ok := f.ChunkTable().ByID(1)
	require.True(t, ok)
	content, err := f.Dictionary().String(rec.ContentStrID)
	require.NoError(t, err)
	assert.Equal(t, "v2", content)
}

func TestAppend_BaseLayer_RefusedWithoutOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, BaseLayerFileName)

	_, err := Append(path, []NewChunk{{Kind: "note", Content: "x"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, agentsdberrors.ErrCodeReadOnlyTarget, agentsdberrors.GetCode(err))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAppend_BaseLayer_AllowedWithOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, BaseLayerFileName)

	res, err := Append(path, []NewChunk{{Kind: "note", Content: "seed"}}, Options{AllowBaseWrite: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, res.IDs)
}

func TestAppend_DimensionMismatch_ReturnsSchemaError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")

	_, err := Append(path, []NewChunk{
		{Kind: "note", Content: "first", Embedding: []float32{1, 0, 0}},
	}, Options{Dim: 3})
	require.NoError(t, err)

	_, err = Append(path, []NewChunk{
		{Kind: "note", Content: "bad", Embedding: []float32{1, 0}},
	}, Options{})
	require.Error(t, err)
	assert.Equal(t, agentsdberrors.ErrCodeDimensionMismatch, agentsdberrors.GetCode(err))
}

func TestAppend_Tombstone_NoEmbeddingRowAssigned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.local.db")

	_, err := Append(path, []NewChunk{
		{Kind: "note", Content: "v1", Embedding: []float32{1, 0}},
	}, Options{Dim: 2})
	require.NoError(t, err)

	_, err = Append(path, []NewChunk{
		{ID: 2, Kind: "tombstone", Sources: []Source{{IsChunkID: true, ChunkID: 1}}},
	}, Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := format.Open(raw)
	require.NoError(t, err)

	rec, ok := f.ChunkTable().ByID(2)
	require.True(t, ok)
	kind, err := f.Dictionary().String(rec.KindStrID)
	require.NoError(t, err)
	assert.Equal(t, "tombstone", kind)
	assert.Equal(t, uint32(0), rec.EmbeddingRow)
}

func TestAppend_WriteLockHeld_ReturnsWriteLockedError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	_, err = Append(path, []NewChunk{{Kind: "note", Content: "x"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, agentsdberrors.ErrCodeWriteLocked, agentsdberrors.GetCode(err))
}

func TestAppend_Sources_BuildsRelationships(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AGENTS.user.db")

	_, err := Append(path, []NewChunk{
		{Kind: "note", Content: "base chunk"},
	}, Options{})
	require.NoError(t, err)

	_, err = Append(path, []NewChunk{
		{
			Kind: "note", Content: "derived",
			Sources: []Source{
				{IsChunkID: true, ChunkID: 1},
				{Ref: "file.rs:42"},
			},
		},
	}, Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := format.Open(raw)
	require.NoError(t, err)

	rec, ok := f.ChunkTable().ByID(2)
	require.True(t, ok)
	require.Equal(t, uint32(2), rec.RelCount)

	rels, ok := f.Relationships()
	require.True(t, ok)
	entries, err := rels.Range(rec.RelStart, rec.RelCount)
	require.NoError(t, err)
	assert.Equal(t, format.RelKindChunkRef, entries[0].Kind)
	assert.Equal(t, uint32(1), entries[0].Value)
	assert.Equal(t, format.RelKindStringRef, entries[1].Kind)

	ref, err := f.Dictionary().String(entries[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "file.rs:42", ref)
}
