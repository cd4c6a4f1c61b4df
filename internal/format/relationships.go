package format

import agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"

// Relationships is a zero-copy view over a file's optional Relationships
// section: packed (kind, value) records. Each chunk's sources occupy the
// half-open interval [RelStart, RelStart+RelCount) within this table.
type Relationships struct {
	data []byte // packed RelationshipEntrySize-byte records
}

// Count returns the total number of relationship records in the table.
func (r *Relationships) Count() uint64 { return uint64(len(r.data) / RelationshipEntrySize) }

// RawData returns the packed relationship records verbatim, for the writer
// to copy forward unchanged when appending new entries (§4.2 step 5).
func (r *Relationships) RawData() []byte { return r.data }

func (r *Relationships) entryAt(i uint64) RelationshipEntry {
	off := i * RelationshipEntrySize
	return decodeRelationshipEntry(r.data[off : off+RelationshipEntrySize])
}

// checkRange validates that [start, start+count) lies within the table.
func (r *Relationships) checkRange(start uint64, count uint32) *agentsdberrors.Error {
	end := start + uint64(count)
	if end > r.Count() || end < start {
		return agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"relationship range [%d, %d) exceeds table of %d entries", start, end, r.Count())
	}
	return nil
}

// Range returns the relationship entries for [start, start+count).
func (r *Relationships) Range(start uint64, count uint32) ([]RelationshipEntry, error) {
	if err := r.checkRange(start, count); err != nil {
		return nil, err
	}
	out := make([]RelationshipEntry, count)
	for i := uint32(0); i < count; i++ {
		out[i] = r.entryAt(start + uint64(i))
	}
	return out, nil
}
