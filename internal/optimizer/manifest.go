package optimizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

const (
	// ManifestFileName is written to the index data directory as the last
	// step of a successful build. Its presence and validity mark the index as
	// complete; a crash mid-build leaves no manifest and the next build
	// starts clean.
	ManifestFileName = "index.manifest.json"
	// GlobalBloomFileName holds the persisted index-wide Bloom filter.
	GlobalBloomFileName = "global.bloom"

	manifestVersion = 1
)

// ShardInfo records per-shard statistics at manifest write time.
type ShardInfo struct {
	ID        int    `json:"id"`
	File      string `json:"file"`
	Terms     int64  `json:"terms"`
	SizeBytes int64  `json:"size_bytes"`
}

// BuildStats summarises the most recent build or update.
type BuildStats struct {
	TotalDocs    int64   `json:"total_docs"`
	SkippedDocs  int64   `json:"skipped_docs"`
	TotalTerms   int64   `json:"total_terms"`
	BuildSeconds float64 `json:"build_seconds"`
}

// Manifest describes a complete on-disk index.
type Manifest struct {
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	NumShards int         `json:"num_shards"`
	BloomFile string      `json:"bloom_file"`
	Shards    []ShardInfo `json:"shards"`
	Stats     BuildStats  `json:"stats"`
}

// Save writes the manifest atomically (temp file then rename) so readers
// never observe a partial manifest.
func (m *Manifest) Save(dataDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	path := filepath.Join(dataDir, ManifestFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads and validates the manifest in dataDir. A missing file
// yields ErrIndexNotBuilt; a malformed or version-mismatched file yields
// ErrCorruptIndex.
func LoadManifest(dataDir string) (*Manifest, error) {
	path := filepath.Join(dataDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no manifest in %s", kierrors.ErrIndexNotBuilt, dataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", kierrors.ErrCorruptIndex, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: manifest version %d, want %d", kierrors.ErrCorruptIndex, m.Version, manifestVersion)
	}
	if m.NumShards <= 0 {
		return nil, fmt.Errorf("%w: manifest has invalid shard count %d", kierrors.ErrCorruptIndex, m.NumShards)
	}
	return &m, nil
}
