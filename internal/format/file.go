package format

import (
	"strconv"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// File is a validated, indexed view over a layer file's bytes. It performs
// no copying of section contents: every accessor returns a sub-slice of the
// original data (which is typically backed by an mmap.MMap, but Open accepts
// any []byte so tests can exercise the codec without touching a filesystem).
type File struct {
	data     []byte
	header   Header
	sections map[uint32]SectionEntry

	dict     Dictionary
	chunks   ChunkTable
	matrix   EmbeddingMatrix
	rels     Relationships
	hasRels  bool
	metadata LayerMetadata
	hasMeta  bool
}

// Open validates and indexes data as an agentsdb layer file. data may be
// backed by a memory mapping or, in tests, an ordinary byte slice.
func Open(data []byte) (*File, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	f := &File{data: data, header: header, sections: make(map[uint32]SectionEntry, header.SectionCount)}

	if err := f.readSectionTable(); err != nil {
		return nil, err
	}
	if err := f.indexSections(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readSectionTable() error {
	h := f.header
	tableEnd := h.SectionsOffset + h.SectionCount*SectionEntrySize
	if h.SectionsOffset > uint64(len(f.data)) || tableEnd > uint64(len(f.data)) {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"section table [%d, %d) exceeds file length %d", h.SectionsOffset, tableEnd, len(f.data)).WithOffset(int64(h.SectionsOffset))
	}

	seen := make(map[uint32]bool, h.SectionCount)
	for i := uint64(0); i < h.SectionCount; i++ {
		off := h.SectionsOffset + i*SectionEntrySize
		entry := decodeSectionEntry(f.data[off : off+SectionEntrySize])

		sectionEnd := entry.Offset + entry.Length
		if entry.Offset > uint64(len(f.data)) || sectionEnd > uint64(len(f.data)) || sectionEnd < entry.Offset {
			return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
				"section kind %d range [%d, %d) exceeds file length %d", entry.Kind, entry.Offset, sectionEnd, len(f.data)).WithOffset(int64(off))
		}
		if seen[entry.Kind] {
			return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeDuplicateSection, nil,
				"section kind %d appears more than once", entry.Kind).WithOffset(int64(off))
		}
		seen[entry.Kind] = true
		f.sections[entry.Kind] = entry
	}

	for _, kind := range []uint32{SectionStringDict, SectionChunkTable, SectionEmbeddingMtx} {
		if _, ok := f.sections[kind]; !ok {
			return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeMissingSection, nil,
				"required section kind %d is absent", kind)
		}
	}
	return nil
}

func (f *File) indexSections() error {
	if err := f.indexDictionary(); err != nil {
		return err
	}
	if err := f.indexChunkTable(); err != nil {
		return err
	}
	if err := f.indexMatrix(); err != nil {
		return err
	}
	if entry, ok := f.sections[SectionRelationships]; ok {
		f.hasRels = true
		f.rels = Relationships{data: f.data[entry.Offset : entry.Offset+entry.Length]}
	}
	if entry, ok := f.sections[SectionLayerMetadata]; ok {
		if err := f.indexLayerMetadata(entry); err != nil {
			return err
		}
		f.hasMeta = true
	}

	if err := f.validateCrossReferences(); err != nil {
		return err
	}
	return nil
}

func (f *File) section(kind uint32) []byte {
	entry := f.sections[kind]
	return f.data[entry.Offset : entry.Offset+entry.Length]
}

func (f *File) indexDictionary() error {
	buf := f.section(SectionStringDict)
	entry := f.sections[SectionStringDict]
	if len(buf) < StringDictHeaderSize {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil,
			"string dictionary section too short: %d bytes", len(buf)).WithOffset(int64(entry.Offset))
	}
	hdr := decodeStringDictHeader(buf)

	entriesLen := hdr.StringCount * stringDictEntrySize
	entriesEnd := hdr.EntriesOffset + entriesLen
	if hdr.EntriesOffset > uint64(len(f.data)) || entriesEnd > uint64(len(f.data)) {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"string dictionary entries [%d, %d) exceed file length %d", hdr.EntriesOffset, entriesEnd, len(f.data)).WithOffset(int64(entry.Offset))
	}
	sectionEnd := entry.Offset + entry.Length
	if hdr.BytesOffset > uint64(len(f.data)) || hdr.BytesOffset > sectionEnd {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"string dictionary bytes_offset %d exceeds file length %d", hdr.BytesOffset, len(f.data)).WithOffset(int64(entry.Offset))
	}
	hdr.BytesLength = sectionEnd - hdr.BytesOffset

	f.dict = Dictionary{
		header:  hdr,
		entries: f.data[hdr.EntriesOffset:entriesEnd],
		bytes:   f.data[hdr.BytesOffset:sectionEnd],
	}
	return nil
}

func (f *File) indexChunkTable() error {
	buf := f.section(SectionChunkTable)
	entry := f.sections[SectionChunkTable]
	if len(buf) < ChunkTableHeaderSize {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil,
			"chunk table section too short: %d bytes", len(buf)).WithOffset(int64(entry.Offset))
	}
	hdr := decodeChunkTableHeader(buf)

	recordsLen := hdr.ChunkCount * ChunkRecordSize
	recordsEnd := hdr.RecordsOffset + recordsLen
	if hdr.RecordsOffset > uint64(len(f.data)) || recordsEnd > uint64(len(f.data)) {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"chunk table records [%d, %d) exceed file length %d", hdr.RecordsOffset, recordsEnd, len(f.data)).WithOffset(int64(entry.Offset))
	}

	f.chunks = ChunkTable{
		header:  hdr,
		records: f.data[hdr.RecordsOffset:recordsEnd],
		byID:    make(map[uint32]int, hdr.ChunkCount),
	}
	for i := uint64(0); i < hdr.ChunkCount; i++ {
		rec := f.chunks.recordAt(int(i))
		f.chunks.byID[rec.ID] = int(i) // later index for the same id wins
	}
	return nil
}

func (f *File) indexMatrix() error {
	buf := f.section(SectionEmbeddingMtx)
	entry := f.sections[SectionEmbeddingMtx]
	if len(buf) < EmbeddingMatrixHeaderSize {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil,
			"embedding matrix section too short: %d bytes", len(buf)).WithOffset(int64(entry.Offset))
	}
	hdr := decodeEmbeddingMatrixHeader(buf)

	if hdr.ElementType != ElementTypeF32 && hdr.ElementType != ElementTypeI8 {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"embedding matrix has unknown element_type %d", hdr.ElementType).WithOffset(int64(entry.Offset))
	}
	if hdr.ElementType == ElementTypeF32 && hdr.QuantScale != 1.0 {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"f32 embedding matrix must have quant_scale 1.0, got %f", hdr.QuantScale).WithOffset(int64(entry.Offset))
	}
	if hdr.ElementType == ElementTypeI8 && hdr.QuantScale == 0 {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"i8 embedding matrix must have a non-zero quant_scale").WithOffset(int64(entry.Offset))
	}

	dataEnd := hdr.DataOffset + hdr.DataLength
	if hdr.DataOffset > uint64(len(f.data)) || dataEnd > uint64(len(f.data)) {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"embedding matrix data [%d, %d) exceeds file length %d", hdr.DataOffset, dataEnd, len(f.data)).WithOffset(int64(entry.Offset))
	}

	elemSize := uint64(4)
	if hdr.ElementType == ElementTypeI8 {
		elemSize = 1
	}
	wantLen := hdr.RowCount * uint64(hdr.Dim) * elemSize
	if hdr.DataLength != wantLen {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"embedding matrix data_length %d does not match row_count*dim*elem_size %d", hdr.DataLength, wantLen).WithOffset(int64(entry.Offset))
	}

	f.matrix = EmbeddingMatrix{header: hdr, data: f.data[hdr.DataOffset:dataEnd]}
	return nil
}

func (f *File) indexLayerMetadata(entry SectionEntry) error {
	buf := f.data[entry.Offset : entry.Offset+entry.Length]
	if len(buf) < LayerMetadataHeaderSize {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil,
			"layer metadata section too short: %d bytes", len(buf)).WithOffset(int64(entry.Offset))
	}
	hdr := decodeLayerMetadataHeader(buf)

	blobEnd := hdr.BlobOffset + hdr.BlobLength
	if hdr.BlobOffset > uint64(len(f.data)) || blobEnd > uint64(len(f.data)) {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"layer metadata blob [%d, %d) exceeds file length %d", hdr.BlobOffset, blobEnd, len(f.data)).WithOffset(int64(entry.Offset))
	}

	f.metadata = LayerMetadata{header: hdr, blob: f.data[hdr.BlobOffset:blobEnd]}
	return nil
}

// validateCrossReferences checks string IDs and embedding rows referenced by
// chunk records are in range, per §4.1 "Validation on open".
func (f *File) validateCrossReferences() error {
	for i := 0; i < f.chunks.Count(); i++ {
		rec := f.chunks.recordAt(i)

		if err := f.dict.checkID(rec.KindStrID); err != nil {
			return err.WithDetail("chunk_index", strconv.Itoa(i))
		}
		if err := f.dict.checkID(rec.ContentStrID); err != nil {
			return err.WithDetail("chunk_index", strconv.Itoa(i))
		}
		if err := f.dict.checkID(rec.AuthorStrID); err != nil {
			return err.WithDetail("chunk_index", strconv.Itoa(i))
		}

		if rec.EmbeddingRow != 0 {
			if rec.EmbeddingRow < 1 || uint64(rec.EmbeddingRow) > f.matrix.header.RowCount {
				return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
					"chunk %d embedding_row %d out of range [1, %d]", rec.ID, rec.EmbeddingRow, f.matrix.header.RowCount).WithDetail("chunk_index", strconv.Itoa(i))
			}
		}

		if rec.RelCount > 0 {
			if !f.hasRels {
				return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
					"chunk %d references relationships but no relationships section is present", rec.ID).WithDetail("chunk_index", strconv.Itoa(i))
			}
			if err := f.rels.checkRange(rec.RelStart, rec.RelCount); err != nil {
				return err.WithDetail("chunk_index", strconv.Itoa(i))
			}
		}
	}
	return nil
}

// Header returns the file's decoded fixed header.
func (f *File) Header() Header { return f.header }

// Dictionary returns the file's string dictionary.
func (f *File) Dictionary() *Dictionary { return &f.dict }

// ChunkTable returns the file's chunk table.
func (f *File) ChunkTable() *ChunkTable { return &f.chunks }

// EmbeddingMatrix returns the file's embedding matrix.
func (f *File) EmbeddingMatrix() *EmbeddingMatrix { return &f.matrix }

// Relationships returns the file's relationships table and whether the
// section is present (a file with no chunk sources omits it entirely).
func (f *File) Relationships() (*Relationships, bool) { return &f.rels, f.hasRels }

// LayerMetadata returns the file's layer metadata section and whether it is
// present (a file written without an explicit embedding profile omits it).
func (f *File) LayerMetadata() (*LayerMetadata, bool) { return &f.metadata, f.hasMeta }
