package icalendar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the boundary to the persistent storage collaborator. It
// consumes one finished entity at a time, applies its own platform
// acceptance rules (for example rejecting a zero-length all-day event),
// and assigns a local identifier. It never receives raw, unnormalized
// data.
type Store interface {
	SaveEntity(entity *Entity) (string, error)
}

// DirStore is a file-based Store that writes each entity as one
// serialized .ics document in a directory. The local identifier is the
// file name.
type DirStore struct {
	Dir string
}

// NewDirStore creates a new DirStore rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{Dir: dir}
}

// SaveEntity serializes the entity (with its exceptions) to
// <dir>/<uid>.ics and returns the file name as the local identifier.
func (store *DirStore) SaveEntity(entity *Entity) (string, error) {
	if entity.UID == "" {
		return "", fmt.Errorf("refusing to store entity without UID")
	}
	if err := os.MkdirAll(store.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create store directory: %w", err)
	}

	name := sanitizeFileName(entity.UID) + ".ics"
	f, err := os.Create(filepath.Join(store.Dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create entity file: %w", err)
	}
	defer f.Close()

	if err := entity.Write(f, ""); err != nil {
		return "", fmt.Errorf("failed to write entity file: %w", err)
	}
	return name, nil
}

// sanitizeFileName keeps uids usable as file names.
func sanitizeFileName(uid string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, uid)
}
