package writer

import (
	"encoding/binary"
	"math"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/format"
)

// builder accumulates the append-only delta against an existing file (which
// may be nil, for a brand-new file) and serializes the full successor.
type builder struct {
	existing *format.File
	opts     Options

	dim      uint32
	elemType uint32
	scale    float32

	newStrings   []string
	existingStrN uint64
	nextStringID uint32

	newRecords       []format.ChunkRecord
	existingRecordsN int

	newRows          [][]float32
	existingRowCount uint64

	newRels         []format.RelationshipEntry
	existingRelN    uint64
	hasExistingRels bool

	nextID uint32
}

func newBuilder(existing *format.File, opts Options) *builder {
	b := &builder{existing: existing, opts: opts}

	if existing != nil {
		b.dim = existing.EmbeddingMatrix().Dim()
		b.elemType = existing.EmbeddingMatrix().ElementType()
		b.scale = existing.EmbeddingMatrix().QuantScale()
		b.existingStrN = existing.Dictionary().Count()
		b.existingRecordsN = existing.ChunkTable().Count()
		b.existingRowCount = existing.EmbeddingMatrix().RowCount()
		if rels, ok := existing.Relationships(); ok {
			b.hasExistingRels = true
			b.existingRelN = rels.Count()
		}

		var maxID uint32
		for i := 0; i < b.existingRecordsN; i++ {
			rec, _ := existing.ChunkTable().ByIndex(i)
			if rec.ID > maxID {
				maxID = rec.ID
			}
		}
		b.nextID = maxID + 1
	} else {
		b.dim = opts.Dim
		b.elemType = opts.ElementType
		if b.elemType == 0 {
			b.elemType = format.ElementTypeF32
		}
		b.scale = opts.QuantScale
		if b.scale == 0 {
			b.scale = 1.0
		}
		b.nextID = 1
	}
	b.nextStringID = uint32(b.existingStrN) + 1
	return b
}

func (b *builder) internString(s string) uint32 {
	if s == "" {
		return 0
	}
	id := b.nextStringID
	b.newStrings = append(b.newStrings, s)
	b.nextStringID++
	return id
}

// appendAll assigns ids and builds the new records/rows/relationships for
// each chunk, returning the assigned ids in order.
func (b *builder) appendAll(chunks []NewChunk) ([]uint32, error) {
	if b.existing != nil && b.opts.ElementType != 0 && b.opts.ElementType != b.elemType {
		return nil, agentsdberrors.SchemaErrorf(agentsdberrors.ErrCodeElementTypeMismatch, nil,
			"requested element type %d, file element type is %d", b.opts.ElementType, b.elemType)
	}

	ids := make([]uint32, 0, len(chunks))
	relCursor := b.existingRelN

	for _, c := range chunks {
		id := c.ID
		if id == 0 {
			id = b.nextID
			b.nextID++
		} else if id >= b.nextID {
			b.nextID = id + 1
		}

		var embeddingRow uint32
		if len(c.Embedding) > 0 {
			if uint32(len(c.Embedding)) != b.dim {
				return nil, agentsdberrors.SchemaErrorf(agentsdberrors.ErrCodeDimensionMismatch, nil,
					"chunk embedding has dimension %d, file dimension is %d", len(c.Embedding), b.dim)
			}
			b.newRows = append(b.newRows, c.Embedding)
			embeddingRow = uint32(b.existingRowCount) + uint32(len(b.newRows))
		}

		var relStart uint64
		var relCount uint32
		if len(c.Sources) > 0 {
			relStart = relCursor
			for _, src := range c.Sources {
				var entry format.RelationshipEntry
				if src.IsChunkID {
					entry = format.RelationshipEntry{Kind: format.RelKindChunkRef, Value: src.ChunkID}
				} else {
					entry = format.RelationshipEntry{Kind: format.RelKindStringRef, Value: b.internString(src.Ref)}
				}
				b.newRels = append(b.newRels, entry)
			}
			relCount = uint32(len(c.Sources))
			relCursor += uint64(relCount)
		}

		rec := format.ChunkRecord{
			ID:              id,
			KindStrID:       b.internString(c.Kind),
			ContentStrID:    b.internString(c.Content),
			AuthorStrID:     b.internString(c.Author),
			Confidence:      c.Confidence,
			CreatedAtUnixMs: c.CreatedAtUnixMs,
			EmbeddingRow:    embeddingRow,
			RelStart:        relStart,
			RelCount:        relCount,
		}
		b.newRecords = append(b.newRecords, rec)
		ids = append(ids, id)
	}

	return ids, nil
}

// serialize lays out and encodes the full successor file: existing section
// bytes copied verbatim, new content appended at each section's tail.
func (b *builder) serialize() []byte {
	hasRels := b.hasExistingRels || len(b.newRels) > 0
	hasMeta := b.existing != nil
	var existingMetaBlob []byte
	if b.existing != nil {
		if meta, ok := b.existing.LayerMetadata(); ok {
			existingMetaBlob = meta.Blob()
		} else {
			hasMeta = len(b.opts.MetadataBlob) > 0
		}
	} else {
		hasMeta = len(b.opts.MetadataBlob) > 0
	}
	metaBlob := existingMetaBlob
	if metaBlob == nil {
		metaBlob = b.opts.MetadataBlob
	}

	sectionCount := 3
	if hasRels {
		sectionCount++
	}
	if hasMeta {
		sectionCount++
	}

	sectionTableOffset := uint64(format.HeaderSize)
	cursor := sectionTableOffset + uint64(sectionCount)*format.SectionEntrySize

	// String Dictionary: existing entries+bytes copied verbatim, new entries
	// and bytes appended at the tail (§4.2 step 2).
	var existingEntries, existingBytes []byte
	if b.existing != nil {
		existingEntries = b.existing.Dictionary().RawEntries()
		existingBytes = b.existing.Dictionary().RawBytes()
	}
	totalStrCount := b.existingStrN + uint64(len(b.newStrings))

	dictOffset := cursor
	entriesOffset := dictOffset + format.StringDictHeaderSize
	bytesOffset := entriesOffset + totalStrCount*format.StringDictEntrySize
	newBytesLen := 0
	for _, s := range b.newStrings {
		newBytesLen += len(s)
	}
	totalBytesLen := uint64(len(existingBytes)) + uint64(newBytesLen)
	dictLen := (bytesOffset + totalBytesLen) - dictOffset
	cursor = dictOffset + dictLen

	// Chunk Table: existing records copied verbatim, new records appended.
	chunkOffset := cursor
	recordsOffset := chunkOffset + format.ChunkTableHeaderSize
	totalChunkCount := uint64(b.existingRecordsN) + uint64(len(b.newRecords))
	chunkLen := (recordsOffset + totalChunkCount*format.ChunkRecordSize) - chunkOffset
	cursor = chunkOffset + chunkLen

	// Embedding Matrix: existing rows copied verbatim, new rows appended.
	var existingMatrixData []byte
	if b.existing != nil {
		existingMatrixData = b.existing.EmbeddingMatrix().RawData()
	}
	elemSize := uint64(4)
	if b.elemType == format.ElementTypeI8 {
		elemSize = 1
	}
	totalRowCount := b.existingRowCount + uint64(len(b.newRows))
	matrixOffset := cursor
	dataOffset := matrixOffset + format.EmbeddingMatrixHeaderSize
	dataLen := totalRowCount * uint64(b.dim) * elemSize
	matrixLen := (dataOffset + dataLen) - matrixOffset
	cursor = matrixOffset + matrixLen

	var relsOffset, relsLen uint64
	var existingRelsData []byte
	if hasRels {
		if b.existing != nil {
			if rels, ok := b.existing.Relationships(); ok {
				existingRelsData = rels.RawData()
			}
		}
		relsOffset = cursor
		relsLen = uint64(len(existingRelsData)) + uint64(len(b.newRels))*format.RelationshipEntrySize
		cursor = relsOffset + relsLen
	}

	var metaOffset, metaLen uint64
	if hasMeta {
		metaOffset = cursor
		blobOffset := metaOffset + format.LayerMetadataHeaderSize
		metaLen = (blobOffset + uint64(len(metaBlob))) - metaOffset
		cursor = metaOffset + metaLen
	}

	fileLen := cursor
	buf := make([]byte, fileLen)

	hdr := format.Header{
		Magic:           format.Magic,
		VersionMajor:    format.VersionMajor,
		VersionMinor:    format.VersionMinor,
		FileLengthBytes: fileLen,
		SectionCount:    uint64(sectionCount),
		SectionsOffset:  sectionTableOffset,
	}
	hdr.Encode(buf[0:format.HeaderSize])

	entries := []format.SectionEntry{
		{Kind: format.SectionStringDict, Offset: dictOffset, Length: dictLen},
		{Kind: format.SectionChunkTable, Offset: chunkOffset, Length: chunkLen},
		{Kind: format.SectionEmbeddingMtx, Offset: matrixOffset, Length: matrixLen},
	}
	if hasRels {
		entries = append(entries, format.SectionEntry{Kind: format.SectionRelationships, Offset: relsOffset, Length: relsLen})
	}
	if hasMeta {
		entries = append(entries, format.SectionEntry{Kind: format.SectionLayerMetadata, Offset: metaOffset, Length: metaLen})
	}
	for i := range entries {
		off := sectionTableOffset + uint64(i)*format.SectionEntrySize
		entries[i].Encode(buf[off : off+format.SectionEntrySize])
	}

	// Dictionary section.
	dictHdr := format.StringDictHeader{StringCount: totalStrCount, EntriesOffset: entriesOffset, BytesOffset: bytesOffset}
	dictHdr.Encode(buf[dictOffset : dictOffset+format.StringDictHeaderSize])
	copy(buf[entriesOffset:], existingEntries)
	copy(buf[bytesOffset:], existingBytes)

	relByteOffset := uint64(len(existingBytes))
	newEntriesStart := entriesOffset + uint64(len(existingEntries))
	for i, s := range b.newStrings {
		e := format.StringDictEntry{ByteOffset: relByteOffset, ByteLength: uint64(len(s))}
		pos := newEntriesStart + uint64(i)*format.StringDictEntrySize
		e.Encode(buf[pos : pos+format.StringDictEntrySize])
		copy(buf[bytesOffset+relByteOffset:], s)
		relByteOffset += uint64(len(s))
	}

	// Chunk Table section.
	chunkHdr := format.ChunkTableHeader{ChunkCount: totalChunkCount, RecordsOffset: recordsOffset}
	chunkHdr.Encode(buf[chunkOffset : chunkOffset+format.ChunkTableHeaderSize])
	var existingRecords []byte
	if b.existing != nil {
		existingRecords = b.existing.ChunkTable().RawRecords()
	}
	copy(buf[recordsOffset:], existingRecords)
	newRecordsStart := recordsOffset + uint64(len(existingRecords))
	for i, rec := range b.newRecords {
		pos := newRecordsStart + uint64(i)*format.ChunkRecordSize
		rec.Encode(buf[pos : pos+format.ChunkRecordSize])
	}

	// Embedding Matrix section.
	matHdr := format.EmbeddingMatrixHeader{
		RowCount:    totalRowCount,
		Dim:         b.dim,
		ElementType: b.elemType,
		DataOffset:  dataOffset,
		DataLength:  dataLen,
		QuantScale:  b.scale,
	}
	matHdr.Encode(buf[matrixOffset : matrixOffset+format.EmbeddingMatrixHeaderSize])
	copy(buf[dataOffset:], existingMatrixData)
	newRowsStart := dataOffset + uint64(len(existingMatrixData))
	for i, row := range b.newRows {
		for j, v := range row {
			switch b.elemType {
			case format.ElementTypeF32:
				off := newRowsStart + uint64(i)*uint64(b.dim)*4 + uint64(j)*4
				binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
			case format.ElementTypeI8:
				off := newRowsStart + uint64(i)*uint64(b.dim) + uint64(j)
				buf[off] = byte(int8(v / b.scale))
			}
		}
	}

	// Relationships section (only written if at least one chunk ever had sources).
	if hasRels {
		copy(buf[relsOffset:], existingRelsData)
		newRelsStart := relsOffset + uint64(len(existingRelsData))
		for i, r := range b.newRels {
			pos := newRelsStart + uint64(i)*format.RelationshipEntrySize
			r.Encode(buf[pos : pos+format.RelationshipEntrySize])
		}
	}

	// Layer Metadata section: carried forward unchanged, or taken from
	// Options when the file has none yet; the writer never mutates an
	// existing profile.
	if hasMeta {
		metaHdr := format.LayerMetadataHeader{Version: 1, Format: 1, BlobOffset: metaOffset + format.LayerMetadataHeaderSize, BlobLength: uint64(len(metaBlob))}
		metaHdr.Encode(buf[metaOffset : metaOffset+format.LayerMetadataHeaderSize])
		copy(buf[metaOffset+format.LayerMetadataHeaderSize:], metaBlob)
	}

	return buf
}
