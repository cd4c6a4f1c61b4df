// Package options merges kind=options chunks across an open layer set into
// one effective configuration document, with per-leaf-key provenance (§4.4).
package options

import (
	"encoding/json"

	agentsdberrors "github.com/agentsdb/agentsdb/internal/errors"
	"github.com/agentsdb/agentsdb/internal/layer"
)

// OptionsKind is the chunk kind carrying a JSON options patch (§3 DATA MODEL).
const OptionsKind = "options"

// AllowlistEntry pins one local model revision's expected weight digest.
type AllowlistEntry struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// EmbeddingOptions is the merged embedding configuration leaf (§4.4).
type EmbeddingOptions struct {
	Backend      string                    `json:"backend,omitempty"`
	Dim          int                       `json:"dim,omitempty"`
	Model        string                    `json:"model,omitempty"`
	Revision     string                    `json:"revision,omitempty"`
	CacheEnabled *bool                     `json:"cache_enabled,omitempty"`
	CacheDir     string                    `json:"cache_dir,omitempty"`
	APIKeyEnv    string                    `json:"api_key_env,omitempty"`
	Allowlist    map[string]AllowlistEntry `json:"allowlist,omitempty"`
}

// EffectiveOptions is the fully merged options document (§4.4).
type EffectiveOptions struct {
	Embedding EmbeddingOptions `json:"embedding"`
}

// Provenance maps a dotted leaf key (e.g. "embedding.backend") to the path
// of the layer that last wrote it.
type Provenance map[string]string

// RollUp merges every kind=options chunk across layers, which must be given
// in precedence order, highest first (matching the query engine's layer
// ordering in §4.6). Deep merge on object values; values from later (lower
// precedence) layers in the slice are overwritten by those from earlier
// ones; arrays replace entirely rather than concatenating.
func RollUp(layers []*layer.Handle) (*EffectiveOptions, Provenance, error) {
	merged := map[string]any{}
	prov := Provenance{}

	// Apply lowest precedence first so each subsequent, higher-precedence
	// layer's values win the merge and the final provenance entry.
	for i := len(layers) - 1; i >= 0; i-- {
		h := layers[i]
		docs, err := optionsDocuments(h)
		if err != nil {
			return nil, nil, err
		}
		for _, doc := range docs {
			mergeInto(merged, doc, h.Path(), prov, "")
		}
	}

	effective := &EffectiveOptions{}
	if len(merged) > 0 {
		raw, err := json.Marshal(merged)
		if err != nil {
			return nil, nil, agentsdberrors.InternalErrorf(err, "marshal merged options document")
		}
		if err := json.Unmarshal(raw, effective); err != nil {
			return nil, nil, agentsdberrors.SchemaErrorf(agentsdberrors.ErrCodeProfileMismatch, err,
				"merged options document does not match the effective options schema")
		}
	}
	return effective, prov, nil
}

// optionsDocuments returns the parsed JSON content of every options chunk in
// h that is still its id's latest version — an options chunk superseded by
// a later write with the same id contributes nothing (§3 Lifecycles).
func optionsDocuments(h *layer.Handle) ([]map[string]any, error) {
	var docs []map[string]any
	n := h.ChunkCount()
	for i := 0; i < n; i++ {
		rec, err := h.ChunkByIndex(i)
		if err != nil {
			return nil, err
		}
		latest, ok := h.ChunkByID(rec.ID)
		if !ok || latest != rec {
			continue
		}

		kind, err := h.Kind(rec)
		if err != nil {
			return nil, err
		}
		if kind != OptionsKind {
			continue
		}

		content, err := h.Content(rec)
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return nil, agentsdberrors.SchemaErrorf(agentsdberrors.ErrCodeProfileMismatch, err,
				"options chunk %d in %s has invalid JSON content", rec.ID, h.Path())
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// mergeInto deep-merges src into dst, recording src's leaf-level scalar and
// array values' provenance as sourcePath under their dotted key path.
func mergeInto(dst, src map[string]any, sourcePath string, prov Provenance, prefix string) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if srcMap, ok := v.(map[string]any); ok {
			dstMap, ok2 := dst[k].(map[string]any)
			if !ok2 {
				dstMap = map[string]any{}
				dst[k] = dstMap
			}
			mergeInto(dstMap, srcMap, sourcePath, prov, key)
			continue
		}

		dst[k] = v
		prov[key] = sourcePath
	}
}
