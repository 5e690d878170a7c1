package gallery

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Kind discriminates the two entry variants. Remote entries reference
// an object the server knows about; local entries are files chosen by
// the user that have not been uploaded yet.
type Kind int

const (
	// KindRemote is a server-known image, possibly with a pending
	// add/delete intent not yet confirmed by a save.
	KindRemote Kind = iota + 1

	// KindLocal is a not-yet-uploaded file staged for addition.
	KindLocal
)

// Source supplies the binary content of a local entry. Filename is the
// identity used by the duplicate-add guard; Open is called once per
// upload attempt.
type Source interface {
	Filename() string
	Open() (io.ReadCloser, error)
}

// Entry is one image slot in a Collection. Fields are unexported so
// that the Collection stays the sole writer; hosts observe entries
// through the accessor methods. Entries can be retagged or converted
// in place while a host still holds a pointer from Display or Entries,
// so the accessors synchronize on the owning collection's lock.
type Entry struct {
	id  string
	col *Collection

	// Mutable fields, guarded by col.mu.
	kind Kind

	// Remote fields.
	path  string
	state State

	// Local fields. A local entry always has intent StateAdd.
	source  Source
	preview string
	release func()
}

func newRemoteEntry(col *Collection, path string, s State) *Entry {
	return &Entry{
		id:    uuid.NewString(),
		col:   col,
		kind:  KindRemote,
		path:  path,
		state: s,
	}
}

func newLocalEntry(col *Collection, src Source, preview string, release func()) *Entry {
	return &Entry{
		id:      uuid.NewString(),
		col:     col,
		kind:    KindLocal,
		source:  src,
		preview: preview,
		release: release,
	}
}

func (e *Entry) rLock()   { e.col.mu.RLock() }
func (e *Entry) rUnlock() { e.col.mu.RUnlock() }

// ID returns the stable opaque identifier assigned at creation. It
// survives moves and the local-to-remote transition during commit, so
// callers can address an entry without tracking index drift.
func (e *Entry) ID() string { return e.id }

// Kind returns the entry variant.
func (e *Entry) Kind() Kind {
	e.rLock()
	defer e.rUnlock()

	return e.kind
}

// IsLocal reports whether the entry is a staged local file.
func (e *Entry) IsLocal() bool {
	e.rLock()
	defer e.rUnlock()

	return e.kind == KindLocal
}

// Path returns the server path of a remote entry, or "" for local.
func (e *Entry) Path() string {
	e.rLock()
	defer e.rUnlock()

	return e.path
}

// State returns the pending intent of a remote entry. Local entries
// report StateAdd, their only possible intent.
func (e *Entry) State() State {
	e.rLock()
	defer e.rUnlock()

	if e.kind == KindLocal {
		return StateAdd
	}

	return e.state
}

// Filename returns the source filename for a local entry, or the base
// of the server path for a remote one. Used in user-facing messages.
func (e *Entry) Filename() string {
	e.rLock()
	defer e.rUnlock()

	return e.filenameLocked()
}

func (e *Entry) filenameLocked() string {
	if e.kind == KindLocal {
		return e.source.Filename()
	}

	return filepath.Base(e.path)
}

// Preview returns the preview handle of a local entry, or "".
func (e *Entry) Preview() string {
	e.rLock()
	defer e.rUnlock()

	return e.preview
}

// Tagged returns the canonical wire form of a remote entry. ok is
// false for local entries, which have no wire form until committed.
func (e *Entry) Tagged() (string, bool) {
	e.rLock()
	defer e.rUnlock()

	return e.taggedLocked()
}

func (e *Entry) taggedLocked() (string, bool) {
	if e.kind != KindRemote {
		return "", false
	}

	return Encode(e.path, e.state), true
}

// stagedSource returns the upload source of a local entry, or ok false
// once the entry has been converted to remote.
func (e *Entry) stagedSource() (Source, bool) {
	e.rLock()
	defer e.rUnlock()

	if e.kind != KindLocal {
		return nil, false
	}

	return e.source, true
}

// releasePreview runs the release hook at most once. Called on every
// exit path of a local entry: outright removal, successful conversion
// to remote during commit, or collection discard.
func (e *Entry) releasePreview() {
	if e.release != nil {
		e.release()
		e.release = nil
	}
}

// fileSource is a Source backed by a file on disk.
type fileSource struct {
	path string
}

// NewFileSource returns a Source that opens the file at path on each
// upload attempt. The filename is the path's base name.
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

func (f *fileSource) Filename() string { return filepath.Base(f.path) }

func (f *fileSource) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// SourceFile returns the backing file path of a staged local entry
// whose source came from NewFileSource, for hosts that persist staged
// adds across sessions. ok is false for remote entries and for
// in-memory sources.
func (e *Entry) SourceFile() (string, bool) {
	e.rLock()
	defer e.rUnlock()

	if e.kind != KindLocal {
		return "", false
	}

	f, ok := e.source.(*fileSource)
	if !ok {
		return "", false
	}

	return f.path, true
}
