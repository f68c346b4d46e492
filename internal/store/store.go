// Package store persists the session to disk: a recovery snapshot that
// exists only while a game is running, and an append-only archive of
// finished stories.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fable-games/fable/internal/game"
)

type Store struct {
	snapshotPath string
	archivePath  string
}

// ArchiveRecord is one finished story in the archive file.
type ArchiveRecord struct {
	Date     time.Time `json:"date"`
	Theme    string    `json:"theme"`
	Narrator string    `json:"narrator"`
	Story    []string  `json:"story"`
}

func New(snapshotPath, archivePath string) *Store {
	return &Store{snapshotPath: snapshotPath, archivePath: archivePath}
}

// Save writes the recovery snapshot while a game is running. Once the game
// stops, the recovery file is removed instead: a crashed lobby has nothing
// worth restoring.
func (s *Store) Save(snap game.Snapshot) error {
	if !snap.Running {
		return s.Clear()
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(s.snapshotPath, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// Load reads the recovery snapshot if one exists. The second return value
// reports whether a snapshot was found.
func (s *Store) Load() (game.Snapshot, bool, error) {
	var snap game.Snapshot

	raw, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, false, nil
		}
		return snap, false, fmt.Errorf("read snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("parse snapshot: %w", err)
	}

	return snap, true, nil
}

// Clear removes the recovery snapshot.
func (s *Store) Clear() error {
	if err := os.Remove(s.snapshotPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// AppendArchive adds one finished story to the archive file. The archive is
// written once per completed story, never on ordinary mutations.
func (s *Store) AppendArchive(rec ArchiveRecord) error {
	var records []ArchiveRecord

	raw, err := os.ReadFile(s.archivePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read archive: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return fmt.Errorf("parse archive: %w", err)
		}
	}

	records = append(records, rec)

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	if err := os.WriteFile(s.archivePath, out, 0o600); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	return nil
}
