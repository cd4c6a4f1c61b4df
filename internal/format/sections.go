package format

import "encoding/binary"

// StringDictHeaderSize is the fixed size of the String Dictionary's header.
const StringDictHeaderSize = 24

// StringDictHeader precedes the dictionary's entries array and bytes blob.
//
//	Offset  Size  Field
//	0x00    8     StringCount
//	0x08    8     EntriesOffset (absolute)
//	0x10    8     BytesOffset (absolute)
//
// BytesLength is not stored; it is derivable from the section length minus
// the header and entries array, and is carried separately for clarity.
type StringDictHeader struct {
	StringCount   uint64
	EntriesOffset uint64
	BytesOffset   uint64
	BytesLength   uint64
}

// stringDictEntrySize is the size of one (byte_offset, byte_length) entry.
const stringDictEntrySize = 16

// Encode writes the header to buf[0:StringDictHeaderSize].
func (s *StringDictHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], s.StringCount)
	binary.LittleEndian.PutUint64(buf[8:16], s.EntriesOffset)
	binary.LittleEndian.PutUint64(buf[16:24], s.BytesOffset)
}

func decodeStringDictHeader(buf []byte) StringDictHeader {
	return StringDictHeader{
		StringCount:   binary.LittleEndian.Uint64(buf[0:8]),
		EntriesOffset: binary.LittleEndian.Uint64(buf[8:16]),
		BytesOffset:   binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// StringDictEntrySize is the size of one dictionary entry: byte_offset u64,
// byte_length u64, both relative to the dictionary's bytes blob.
const StringDictEntrySize = stringDictEntrySize

// StringDictEntry is one decoded (byte_offset, byte_length) dictionary entry.
type StringDictEntry struct {
	ByteOffset uint64
	ByteLength uint64
}

// Encode writes the entry to buf[0:StringDictEntrySize].
func (e *StringDictEntry) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], e.ByteOffset)
	binary.LittleEndian.PutUint64(buf[8:16], e.ByteLength)
}

// ChunkTableHeaderSize is the fixed size of the Chunk Table's header.
const ChunkTableHeaderSize = 16

// ChunkTableHeader precedes the packed 48-byte chunk records.
type ChunkTableHeader struct {
	ChunkCount    uint64
	RecordsOffset uint64
}

// ChunkRecordSize is the fixed size of one Chunk Table record.
const ChunkRecordSize = 48

func (c *ChunkTableHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], c.ChunkCount)
	binary.LittleEndian.PutUint64(buf[8:16], c.RecordsOffset)
}

func decodeChunkTableHeader(buf []byte) ChunkTableHeader {
	return ChunkTableHeader{
		ChunkCount:    binary.LittleEndian.Uint64(buf[0:8]),
		RecordsOffset: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// ChunkRecord is one 48-byte fixed-size Chunk Table entry, decoded.
//
//	Offset  Size  Field
//	0x00    4     ID
//	0x04    4     KindStrID
//	0x08    4     ContentStrID
//	0x0C    4     AuthorStrID
//	0x10    4     Confidence (f32)
//	0x14    8     CreatedAtUnixMs
//	0x1C    4     EmbeddingRow
//	0x20    4     Reserved0
//	0x24    8     RelStart
//	0x2C    4     RelCount
type ChunkRecord struct {
	ID              uint32
	KindStrID       uint32
	ContentStrID    uint32
	AuthorStrID     uint32
	Confidence      float32
	CreatedAtUnixMs uint64
	EmbeddingRow    uint32
	RelStart        uint64
	RelCount        uint32
}

// Encode writes the record to buf[0:ChunkRecordSize].
func (c *ChunkRecord) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], c.ID)
	binary.LittleEndian.PutUint32(buf[4:8], c.KindStrID)
	binary.LittleEndian.PutUint32(buf[8:12], c.ContentStrID)
	binary.LittleEndian.PutUint32(buf[12:16], c.AuthorStrID)
	binary.LittleEndian.PutUint32(buf[16:20], float32bits(c.Confidence))
	binary.LittleEndian.PutUint64(buf[20:28], c.CreatedAtUnixMs)
	binary.LittleEndian.PutUint32(buf[28:32], c.EmbeddingRow)
	binary.LittleEndian.PutUint32(buf[32:36], 0) // reserved0
	binary.LittleEndian.PutUint64(buf[36:44], c.RelStart)
	binary.LittleEndian.PutUint32(buf[44:48], c.RelCount)
}

func decodeChunkRecord(buf []byte) ChunkRecord {
	return ChunkRecord{
		ID:              binary.LittleEndian.Uint32(buf[0:4]),
		KindStrID:       binary.LittleEndian.Uint32(buf[4:8]),
		ContentStrID:    binary.LittleEndian.Uint32(buf[8:12]),
		AuthorStrID:     binary.LittleEndian.Uint32(buf[12:16]),
		Confidence:      float32frombits(binary.LittleEndian.Uint32(buf[16:20])),
		CreatedAtUnixMs: binary.LittleEndian.Uint64(buf[20:28]),
		EmbeddingRow:    binary.LittleEndian.Uint32(buf[28:32]),
		RelStart:        binary.LittleEndian.Uint64(buf[36:44]),
		RelCount:        binary.LittleEndian.Uint32(buf[44:48]),
	}
}

// EmbeddingMatrixHeaderSize is the fixed size of the Embedding Matrix's header.
const EmbeddingMatrixHeaderSize = 40

// Element types for the Embedding Matrix.
const (
	ElementTypeF32 uint32 = 1
	ElementTypeI8  uint32 = 2
)

// EmbeddingMatrixHeader precedes the row-major, tightly packed matrix data.
type EmbeddingMatrixHeader struct {
	RowCount    uint64
	Dim         uint32
	ElementType uint32
	DataOffset  uint64
	DataLength  uint64
	QuantScale  float32
}

func (e *EmbeddingMatrixHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], e.RowCount)
	binary.LittleEndian.PutUint32(buf[8:12], e.Dim)
	binary.LittleEndian.PutUint32(buf[12:16], e.ElementType)
	binary.LittleEndian.PutUint64(buf[16:24], e.DataOffset)
	binary.LittleEndian.PutUint64(buf[24:32], e.DataLength)
	binary.LittleEndian.PutUint32(buf[32:36], float32bits(e.QuantScale))
	binary.LittleEndian.PutUint32(buf[36:40], 0) // reserved0
}

func decodeEmbeddingMatrixHeader(buf []byte) EmbeddingMatrixHeader {
	return EmbeddingMatrixHeader{
		RowCount:    binary.LittleEndian.Uint64(buf[0:8]),
		Dim:         binary.LittleEndian.Uint32(buf[8:12]),
		ElementType: binary.LittleEndian.Uint32(buf[12:16]),
		DataOffset:  binary.LittleEndian.Uint64(buf[16:24]),
		DataLength:  binary.LittleEndian.Uint64(buf[24:32]),
		QuantScale:  float32frombits(binary.LittleEndian.Uint32(buf[32:36])),
	}
}

// RelationshipEntrySize is the size of one Relationships record: (kind, value).
const RelationshipEntrySize = 8

// Relationship kinds distinguish a chunk-id reference from a dictionary-string
// reference (e.g. "file.rs:42").
const (
	RelKindChunkRef  uint32 = 1
	RelKindStringRef uint32 = 2
)

// RelationshipEntry is one decoded (kind, value) pair.
type RelationshipEntry struct {
	Kind  uint32
	Value uint32
}

func (r *RelationshipEntry) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], r.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], r.Value)
}

func decodeRelationshipEntry(buf []byte) RelationshipEntry {
	return RelationshipEntry{
		Kind:  binary.LittleEndian.Uint32(buf[0:4]),
		Value: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// LayerMetadataHeaderSize is the fixed size of the Layer Metadata header.
const LayerMetadataHeaderSize = 24

// LayerMetadataHeader precedes a UTF-8 JSON blob describing the layer's
// embedding profile (§4.5) and any embedder-specific metadata.
type LayerMetadataHeader struct {
	Version    uint32
	Format     uint32
	BlobOffset uint64
	BlobLength uint64
}

func (l *LayerMetadataHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], l.Version)
	binary.LittleEndian.PutUint32(buf[4:8], l.Format)
	binary.LittleEndian.PutUint64(buf[8:16], l.BlobOffset)
	binary.LittleEndian.PutUint64(buf[16:24], l.BlobLength)
}

func decodeLayerMetadataHeader(buf []byte) LayerMetadataHeader {
	return LayerMetadataHeader{
		Version:    binary.LittleEndian.Uint32(buf[0:4]),
		Format:     binary.LittleEndian.Uint32(buf[4:8]),
		BlobOffset: binary.LittleEndian.Uint64(buf[8:16]),
		BlobLength: binary.LittleEndian.Uint64(buf[16:24]),
	}
}
