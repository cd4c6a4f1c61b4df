package format

import (
	"encoding/binary"
	"math"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
)

// EmbeddingMatrix is a zero-copy view over a file's Embedding Matrix
// section: row-major, tightly packed vectors of a single element type.
type EmbeddingMatrix struct {
	header EmbeddingMatrixHeader
	data   []byte
}

// RowCount returns the number of stored rows.
func (m *EmbeddingMatrix) RowCount() uint64 { return m.header.RowCount }

// Dim returns the per-row vector dimension.
func (m *EmbeddingMatrix) Dim() uint32 { return m.header.Dim }

// ElementType returns ElementTypeF32 or ElementTypeI8.
func (m *EmbeddingMatrix) ElementType() uint32 { return m.header.ElementType }

// QuantScale returns the quantization scale (1.0 for f32, non-zero for i8).
func (m *EmbeddingMatrix) QuantScale() float32 { return m.header.QuantScale }

// RawData returns the matrix's packed row data verbatim, for the writer to
// copy forward unchanged when appending new rows (§4.2 step 3).
func (m *EmbeddingMatrix) RawData() []byte { return m.data }

// Row returns the 1-based row as a dequantized []float32, regardless of the
// on-disk element type.
func (m *EmbeddingMatrix) Row(row uint32) ([]float32, error) {
	if row < 1 || uint64(row) > m.header.RowCount {
		return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"embedding row %d out of range [1, %d]", row, m.header.RowCount)
	}

	dim := int(m.header.Dim)
	idx := uint64(row - 1)

	switch m.header.ElementType {
	case ElementTypeF32:
		start := idx * uint64(dim) * 4
		out := make([]float32, dim)
		for i := 0; i < dim; i++ {
			off := start + uint64(i)*4
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(m.data[off : off+4]))
		}
		return out, nil
	case ElementTypeI8:
		start := idx * uint64(dim)
		out := make([]float32, dim)
		scale := m.header.QuantScale
		for i := 0; i < dim; i++ {
			out[i] = float32(int8(m.data[start+uint64(i)])) * scale
		}
		return out, nil
	default:
		return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"unknown embedding matrix element_type %d", m.header.ElementType)
	}
}

// RawRow returns the 1-based row's raw on-disk bytes, without dequantizing —
// used by the writer when copying existing rows verbatim (§4.2 step 3).
func (m *EmbeddingMatrix) RawRow(row uint32) ([]byte, error) {
	if row < 1 || uint64(row) > m.header.RowCount {
		return nil, agentsdberrors.FormatErrorf(agentsdberrors.ErrCodeCorruptRef, nil,
			"embedding row %d out of range [1, %d]", row, m.header.RowCount)
	}
	elemSize := 4
	if m.header.ElementType == ElementTypeI8 {
		elemSize = 1
	}
	dim := int(m.header.Dim)
	start := uint64(row-1) * uint64(dim) * uint64(elemSize)
	end := start + uint64(dim)*uint64(elemSize)
	return m.data[start:end], nil
}
