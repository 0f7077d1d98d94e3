package bootconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one saved, immutable version of a ProcessConfig. ActorID
// is a random id assigned by Save; it identifies the snapshot for
// RollbackTo.
type Snapshot struct {
	ActorID     uuid.UUID      `json:"actor_id"`
	Config      *ProcessConfig `json:"config"`
	SavedAt     time.Time      `json:"saved_at"`
	Description string         `json:"description"`
}

// VersionedStore persists a linear history of ProcessConfig snapshots
// to a directory, one JSON file per version, and supports rollback.
type VersionedStore struct {
	dir string
}

// NewVersionedStore creates (or reuses) a version history directory.
func NewVersionedStore(dir string) (*VersionedStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bootconfig: create versions dir: %w", err)
	}
	return &VersionedStore{dir: dir}, nil
}

// Save records cfg as a new version, tagged with description and a
// fresh ID. The file is named after cfg.Checksum and that ID, so
// re-saving an unchanged config adds another snapshot.
func (s *VersionedStore) Save(cfg *ProcessConfig, description string) (uuid.UUID, error) {
	id := uuid.New()
	snap := Snapshot{ActorID: id, Config: cfg, SavedAt: time.Now(), Description: description}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return uuid.Nil, fmt.Errorf("bootconfig: marshal snapshot: %w", err)
	}
	name := fmt.Sprintf("%s_%s.json", cfg.Checksum, id.String())
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("bootconfig: write snapshot: %w", err)
	}
	return id, nil
}

// History returns every saved snapshot, oldest first.
func (s *VersionedStore) History() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("bootconfig: read versions dir: %w", err)
	}
	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SavedAt.Before(snaps[j].SavedAt) })
	return snaps, nil
}

// RollbackTo returns the ProcessConfig saved under actorID, for the
// caller to re-apply; the store itself holds no notion of "current"
// version. It is read-only history.
func (s *VersionedStore) RollbackTo(actorID uuid.UUID) (*ProcessConfig, error) {
	snaps, err := s.History()
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if snap.ActorID == actorID {
			return snap.Config, nil
		}
	}
	return nil, fmt.Errorf("bootconfig: version %s not found", actorID)
}
