package options

import "github.com/agentsdb/agentsdb/internal/config"

// ApplyConfigDefaults fills any leaf of opts left unset by RollUp with the
// process-level config's value, and records "config" as that leaf's
// provenance. Layer-carried options chunks always take precedence; a fresh
// store with no options chunks at all still ends up with sane embedding
// defaults (§4.4).
func ApplyConfigDefaults(opts *EffectiveOptions, prov Provenance, cfg *config.Config) {
	e := &opts.Embedding

	setIfEmptyString(&e.Backend, cfg.Embedding.Backend, "embedding.backend", prov)
	if e.Dim == 0 {
		e.Dim = cfg.Embedding.Dimensions
		prov["embedding.dim"] = "config"
	}
	setIfEmptyString(&e.Model, cfg.Embedding.Model, "embedding.model", prov)
	setIfEmptyString(&e.Revision, cfg.Embedding.Revision, "embedding.revision", prov)
	if e.CacheEnabled == nil {
		enabled := cfg.Cache.Enabled
		e.CacheEnabled = &enabled
		prov["embedding.cache_enabled"] = "config"
	}
	setIfEmptyString(&e.CacheDir, cfg.Cache.Dir, "embedding.cache_dir", prov)
	setIfEmptyString(&e.APIKeyEnv, cfg.Embedding.APIKeyEnv, "embedding.api_key_env", prov)
}

func setIfEmptyString(field *string, fallback string, key string, prov Provenance) {
	if *field != "" {
		return
	}
	*field = fallback
	if fallback != "" {
		prov[key] = "config"
	}
}
