package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/types"
)

// SnapshotVersion is the current on-disk snapshot format version.
const SnapshotVersion = 1

// Snapshot is the persisted form of the index.
type Snapshot struct {
	Version       int                                   `json:"version"`
	Timestamp     time.Time                             `json:"timestamp"`
	WorkspaceRoot string                                `json:"workspace_root"`
	Index         map[string]*types.FileInheritanceData `json:"index"`
}

// Save writes a versioned snapshot of the index to path atomically
// (temp file + rename), creating parent directories as needed.
func (ix *Index) Save(path, workspaceRoot string) error {
	snap := Snapshot{
		Version:       SnapshotVersion,
		Timestamp:     time.Now().UTC(),
		WorkspaceRoot: workspaceRoot,
		Index:         ix.Export(),
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	debug.LogIndexing("saved snapshot with %d files to %s\n", len(snap.Index), path)
	return nil
}

// Load replaces the index contents from a snapshot file. It accepts the
// versioned envelope or a legacy bare mapping. A versioned envelope with
// an empty index is a successful load of "nothing indexed yet". A
// missing or malformed file is an error; callers treat load failure as
// "no snapshot" and fall back to a full re-index.
func (ix *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err == nil && snap.Version > 0 {
		if snap.Version > SnapshotVersion {
			return fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, SnapshotVersion)
		}
		if snap.Index == nil {
			snap.Index = map[string]*types.FileInheritanceData{}
		}
		ix.Import(snap.Index)
		debug.LogIndexing("loaded snapshot v%d with %d files\n", snap.Version, len(snap.Index))
		return nil
	}

	// Legacy format: a bare path -> data mapping with no envelope.
	var bare map[string]*types.FileInheritanceData
	if err := json.Unmarshal(data, &bare); err != nil {
		return fmt.Errorf("malformed snapshot %s: %w", path, err)
	}
	ix.Import(bare)
	debug.LogIndexing("loaded legacy snapshot with %d files\n", len(bare))
	return nil
}
