// Package state persists unsaved editing drafts across sessions. A
// draft records the exact ordered shape of one record's image
// collection (committed server paths with their pending tags plus the
// file paths of staged local adds) together with the last clean
// snapshot, so an interrupted session resumes with nothing lost.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/media-stage/gallery"
	apperrors "github.com/alexjbarnes/media-stage/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory
	// (~/.media-stage/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	stateOpenTimeout = 5 * time.Second
)

var draftsBucket = []byte("drafts")

// Slot is one ordered position in a draft. Exactly one field is set:
// Tagged for a server-known entry in canonical wire form, File for a
// staged local add (absolute path of the source file).
type Slot struct {
	Tagged string `json:"tagged,omitempty"`
	File   string `json:"file,omitempty"`
}

// Draft is the persisted form of one record's unsaved collection.
type Draft struct {
	Record  string   `json:"record"`
	Slots   []Slot   `json:"slots"`
	Clean   []string `json:"clean"`
	SavedAt int64    `json:"saved_at"`
}

// FromCollection captures a collection and its last clean snapshot as
// a draft for the given record key. Staged entries whose source is not
// a plain file (and therefore cannot be reopened next session) are
// skipped.
func FromCollection(record string, c *gallery.Collection, snap gallery.Snapshot) Draft {
	d := Draft{
		Record:  record,
		Clean:   snap.Tagged(),
		SavedAt: time.Now().UnixMilli(),
	}

	for _, e := range c.Entries() {
		if tagged, ok := e.Tagged(); ok {
			d.Slots = append(d.Slots, Slot{Tagged: tagged})
			continue
		}

		// In-memory sources cannot be reopened next session; only
		// file-backed stages survive.
		if path, ok := e.SourceFile(); ok {
			d.Slots = append(d.Slots, Slot{File: path})
		}
	}

	return d
}

// Restore rebuilds the collection and clean snapshot from the draft.
// Remote slots are normalized in order; staged files are re-added and
// moved back into their recorded display positions. A staged file
// missing from disk is dropped silently, matching the normalizer's
// treatment of malformed input.
func (d Draft) Restore() (*gallery.Collection, gallery.Snapshot) {
	remote := make([]string, 0, len(d.Slots))

	for _, s := range d.Slots {
		if s.Tagged != "" {
			remote = append(remote, s.Tagged)
		}
	}

	c := gallery.Normalize(remote)

	display := 0

	for _, s := range d.Slots {
		switch {
		case s.File != "":
			if _, err := os.Stat(s.File); err != nil {
				continue
			}

			e, added := c.Add(gallery.NewFileSource(s.File))
			if added {
				_ = c.MoveID(e.ID(), display)
			}

			display++

		case !gallery.IsDeleted(s.Tagged):
			display++
		}
	}

	return c, gallery.SnapshotOf(d.Clean)
}

// Store wraps a bbolt database holding all persisted drafts.
type Store struct {
	db *bolt.DB
}

// Open opens the draft database at ~/.media-stage/state.db, creating
// it if it does not exist.
func Open() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}

	return OpenAt(filepath.Join(home, ".media-stage", "state.db"))
}

// OpenAt opens a draft database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(draftsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDraft persists a draft, replacing any previous draft for the
// same record.
func (s *Store) SaveDraft(d Draft) error {
	if d.Record == "" {
		return fmt.Errorf("draft record key is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}

		return tx.Bucket(draftsBucket).Put([]byte(d.Record), data)
	})
}

// GetDraft returns the draft for a record, or ErrDraftNotFound.
func (s *Store) GetDraft(record string) (Draft, error) {
	var d Draft

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(draftsBucket).Get([]byte(record))
		if v == nil {
			return fmt.Errorf("%w: %s", apperrors.ErrDraftNotFound, record)
		}

		return json.Unmarshal(v, &d)
	})

	return d, err
}

// DeleteDraft removes the draft for a record. Deleting a missing draft
// is not an error.
func (s *Store) DeleteDraft(record string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(draftsBucket).Delete([]byte(record))
	})
}

// ListDrafts returns the record keys of all persisted drafts.
func (s *Store) ListDrafts() ([]string, error) {
	var records []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(draftsBucket).ForEach(func(k, _ []byte) error {
			records = append(records, string(k))
			return nil
		})
	})

	return records, err
}
