package format

// LayerMetadata is a zero-copy view over a file's optional Layer Metadata
// section. The blob is a UTF-8 JSON object describing the layer's embedding
// profile; format itself does not parse it (the codec is a leaf package —
// §9 Design Notes — profile parsing and compatibility checks live in
// internal/query).
type LayerMetadata struct {
	header LayerMetadataHeader
	blob   []byte
}

// Version returns the metadata section's schema version.
func (l *LayerMetadata) Version() uint32 { return l.header.Version }

// Blob returns the raw UTF-8 JSON bytes describing the embedding profile.
func (l *LayerMetadata) Blob() []byte { return l.blob }
