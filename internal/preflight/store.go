package preflight

import (
	"fmt"
	"os"

	"github.com/vitrine-search/vitrine/internal/store"
)

// CheckMetadataStore verifies the metadata database file is readable
// when it exists. A missing file passes: the store creates it on first
// use.
func (c *Checker) CheckMetadataStore(root string) CheckResult {
	result := CheckResult{
		Name:     "metadata_store",
		Required: false,
	}

	path := c.cfg.StorePath(root)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = StatusPass
			result.Message = "no metadata store yet (created on first run)"
			return result
		}
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot open %s: %v", path, err)
		result.Required = true
		return result
	}
	_ = f.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("metadata store readable at %s", path)
	return result
}

// CheckVectorSchema verifies a persisted vector index matches the
// configured dimensions and metric. A schema mismatch blocks startup;
// changing dimensions requires a full reindex.
func (c *Checker) CheckVectorSchema(root string) CheckResult {
	result := CheckResult{
		Name:     "vector_schema",
		Required: true,
	}

	path := c.cfg.VectorsPath(root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.Status = StatusPass
		result.Message = "no vector index yet (created on first index)"
		result.Required = false
		return result
	}

	dims, metric, err := store.ReadCollectionSchema(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read vector index schema: %v", err)
		return result
	}
	if dims == 0 && metric == "" {
		result.Status = StatusFail
		result.Message = "vector index sidecar missing"
		result.Details = "Run 'vitrine reindex' after removing the vector index file"
		return result
	}

	if dims != c.cfg.Vectors.Dimensions || metric != c.cfg.Vectors.Metric {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("index is %dd/%s, config wants %dd/%s",
			dims, metric, c.cfg.Vectors.Dimensions, c.cfg.Vectors.Metric)
		result.Details = "Run 'vitrine reindex' after removing the vector index file"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("vector index schema matches (%dd/%s)", dims, metric)
	return result
}
