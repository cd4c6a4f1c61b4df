package format

import (
	"encoding/binary"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// Dictionary is a zero-copy view over a file's String Dictionary section.
// String IDs are 1-based; 0 means unset.
type Dictionary struct {
	header  StringDictHeader
	entries []byte // packed (byte_offset, byte_length) pairs, stringDictEntrySize each
	bytes   []byte // contiguous UTF-8 blob, from bytes_offset to end of section's backing slice
}

// Count returns the number of interned strings.
func (d *Dictionary) Count() uint64 { return d.header.StringCount }

// checkID validates that id is either 0 (unset) or a valid 1-based string ID.
func (d *Dictionary) checkID(id uint32) *agentsdberrors.Error {
	if id == 0 {
		return nil
	}
	if uint64(id) > d.header.StringCount {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"string id %d out of range [1, %d]", id, d.header.StringCount)
	}
	return nil
}

// BytesLength returns the exact length of the dictionary's UTF-8 bytes blob.
func (d *Dictionary) BytesLength() uint64 { return d.header.BytesLength }

// RawEntries returns the packed entries array verbatim, for the writer to
// copy forward unchanged when appending new strings (§4.2 step 2).
func (d *Dictionary) RawEntries() []byte { return d.entries }

// RawBytes returns the dictionary's UTF-8 bytes blob verbatim.
func (d *Dictionary) RawBytes() []byte { return d.bytes }

// String resolves a 1-based string ID to its UTF-8 text. id == 0 returns "".
func (d *Dictionary) String(id uint32) (string, error) {
	if id == 0 {
		return "", nil
	}
	if err := d.checkID(id); err != nil {
		return "", err
	}

	idx := uint64(id-1) * stringDictEntrySize
	byteOffset := binary.LittleEndian.Uint64(d.entries[idx : idx+8])
	byteLength := binary.LittleEndian.Uint64(d.entries[idx+8 : idx+16])

	end := byteOffset + byteLength
	if end > uint64(len(d.bytes)) {
		return "", agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"string id %d spans [%d, %d) beyond dictionary bytes blob (%d bytes)", id, byteOffset, end, len(d.bytes))
	}
	return string(d.bytes[byteOffset:end]), nil
}
