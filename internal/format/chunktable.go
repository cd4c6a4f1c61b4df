package format

import agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"

// ChunkTable is a zero-copy view over a file's Chunk Table section. Records
// are kept in on-disk write order; ByID resolves to the latest (highest
// index) record for a given id, per the layer's "latest wins" rule.
type ChunkTable struct {
	header  ChunkTableHeader
	records []byte // packed ChunkRecordSize-byte records
	byID    map[uint32]int
}

// Count returns the number of chunk records, including superseded versions.
func (c *ChunkTable) Count() int { return int(c.header.ChunkCount) }

// RawRecords returns the packed chunk records verbatim, for the writer to
// copy forward unchanged when appending new records (§4.2 step 4).
func (c *ChunkTable) RawRecords() []byte { return c.records }

func (c *ChunkTable) recordAt(i int) ChunkRecord {
	off := i * ChunkRecordSize
	return decodeChunkRecord(c.records[off : off+ChunkRecordSize])
}

// ByIndex returns the record at position i in write order.
func (c *ChunkTable) ByIndex(i int) (ChunkRecord, error) {
	if i < 0 || i >= c.Count() {
		return ChunkRecord{}, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"chunk index %d out of range [0, %d)", i, c.Count())
	}
	return c.recordAt(i), nil
}

// ByID returns the latest record for id (newest-position wins) and whether
// it was found at all.
func (c *ChunkTable) ByID(id uint32) (ChunkRecord, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return ChunkRecord{}, false
	}
	return c.recordAt(idx), true
}

// IDs returns the set of distinct chunk ids present in the table.
func (c *ChunkTable) IDs() []uint32 {
	ids := make([]uint32, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	return ids
}
