// Package format implements the agentsdb binary layer file codec: a
// fixed header, a section table, and the typed sections it addresses
// (String Dictionary, Chunk Table, Embedding Matrix, Relationships, Layer
// Metadata). All multi-byte fields are little-endian; all offsets are
// absolute from the start of the file.
package format

import (
	"encoding/binary"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// Magic identifies an agentsdb layer file: the bytes 'A', 'G', 'D', 'B'.
const Magic uint32 = 0x42444741 // "AGDB" little-endian on disk as 41 47 44 42

// VersionMajor is the only format major version this codec understands.
const VersionMajor uint16 = 1

// VersionMinor is this codec's advisory minor version, written on publish.
const VersionMinor uint16 = 0

// HeaderSize is the fixed size in bytes of the file header.
const HeaderSize = 40

// SectionEntrySize is the fixed size in bytes of one section table entry:
// kind u32, reserved u32, offset u64, length u64.
const SectionEntrySize = 24

// Section kinds, per the file's section table.
const (
	SectionStringDict    uint32 = 1
	SectionChunkTable    uint32 = 2
	SectionEmbeddingMtx  uint32 = 3
	SectionRelationships uint32 = 4
	SectionLayerMetadata uint32 = 5
)

// Header is the file's fixed 40-byte preamble.
//
//	Offset  Size  Field
//	0x00    4     Magic
//	0x04    2     VersionMajor
//	0x06    2     VersionMinor
//	0x08    8     FileLengthBytes
//	0x10    8     SectionCount
//	0x18    8     SectionsOffset
//	0x20    8     Flags
type Header struct {
	Magic           uint32
	VersionMajor    uint16
	VersionMinor    uint16
	FileLengthBytes uint64
	SectionCount    uint64
	SectionsOffset  uint64
	Flags           uint64
}

// Encode writes the header to buf[0:HeaderSize]. buf must be at least
// HeaderSize bytes.
func (h *Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionMajor)
	binary.LittleEndian.PutUint16(buf[6:8], h.VersionMinor)
	binary.LittleEndian.PutUint64(buf[8:16], h.FileLengthBytes)
	binary.LittleEndian.PutUint64(buf[16:24], h.SectionCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.SectionsOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.Flags)
}

// DecodeHeader reads and validates the fixed header at the start of data.
// It does not validate section contents; callers proceed to read the
// section table once this passes.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil,
			"file too short for header: %d bytes, need at least %d", len(data), HeaderSize).WithOffset(0)
	}

	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	if h.Magic != Magic {
		return h, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeBadMagic, nil,
			"bad magic: got %#08x, want %#08x", h.Magic, Magic).WithOffset(0)
	}

	h.VersionMajor = binary.LittleEndian.Uint16(data[4:6])
	h.VersionMinor = binary.LittleEndian.Uint16(data[6:8])
	if h.VersionMajor != VersionMajor {
		return h, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeBadVersion, nil,
			"unsupported version_major %d, want %d", h.VersionMajor, VersionMajor).WithOffset(4)
	}

	h.FileLengthBytes = binary.LittleEndian.Uint64(data[8:16])
	h.SectionCount = binary.LittleEndian.Uint64(data[16:24])
	h.SectionsOffset = binary.LittleEndian.Uint64(data[24:32])
	h.Flags = binary.LittleEndian.Uint64(data[32:40])

	if h.FileLengthBytes != uint64(len(data)) {
		return h, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeTruncatedFile, nil,
			"file_length_bytes %d does not match actual length %d", h.FileLengthBytes, len(data)).WithOffset(8)
	}

	return h, nil
}

// SectionEntry is one entry of the section table: (kind, reserved, offset, length).
type SectionEntry struct {
	Kind     uint32
	Reserved uint32
	Offset   uint64
	Length   uint64
}

// Encode writes the section entry to buf[0:SectionEntrySize].
func (s *SectionEntry) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], s.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], s.Offset)
	binary.LittleEndian.PutUint64(buf[16:24], s.Length)
}

// decodeSectionEntry reads one section entry from buf[0:SectionEntrySize].
func decodeSectionEntry(buf []byte) SectionEntry {
	return SectionEntry{
		Kind:     binary.LittleEndian.Uint32(buf[0:4]),
		Reserved: binary.LittleEndian.Uint32(buf[4:8]),
		Offset:   binary.LittleEndian.Uint64(buf[8:16]),
		Length:   binary.LittleEndian.Uint64(buf[16:24]),
	}
}
