// Package gallery implements the staged image-collection engine used by
// every record form that edits photos. A Collection holds an ordered
// list of image entries that can independently be committed on the
// server, staged for upload, or staged for deletion. Mutations happen
// locally and nothing is uploaded until Commit; the submission payload
// then tells the backend exactly which images are new, unchanged, or to
// be deleted.
package gallery

import "strings"

// State is the pending intent recorded on a remote image path. It is
// encoded on the wire as a URL-style suffix: "<path>?<state>".
type State string

const (
	// StateOriginal marks an image that already exists on the server
	// and is unchanged apart from its position in the collection.
	StateOriginal State = "original"

	// StateAdd marks an image uploaded during this editing session and
	// not yet referenced by the saved record.
	StateAdd State = "add"

	// StateDelete marks a server image the user removed. The entry
	// stays in the collection so the backend sees the deletion.
	StateDelete State = "delete"
)

// Valid reports whether s is one of the three recognized states.
func (s State) Valid() bool {
	switch s {
	case StateOriginal, StateAdd, StateDelete:
		return true
	}

	return false
}

// Encode returns the tagged wire form "<path>?<state>". Any query
// string already present on path (pre-existing CDN parameters) is
// stripped first so exactly one "?" separator ever appears. An empty
// path or an unrecognized state yields "".
func Encode(path string, s State) string {
	if path == "" || !s.Valid() {
		return ""
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if path == "" {
		return ""
	}

	return path + "?" + string(s)
}

// Decode splits tagged on the first "?" and returns the path and state.
// ok is false when the input is empty, has no separator, or carries an
// unrecognized suffix; the codec never guesses a default state (see
// DecodeDefault for the caller-requested Original fallback).
func Decode(tagged string) (path string, s State, ok bool) {
	if tagged == "" {
		return "", "", false
	}

	i := strings.IndexByte(tagged, '?')
	if i < 0 {
		return tagged, "", false
	}

	path = tagged[:i]

	s = State(tagged[i+1:])
	if path == "" || !s.Valid() {
		return path, "", false
	}

	return path, s, true
}

// DecodeDefault decodes tagged, treating a missing or unrecognized
// suffix as StateOriginal. This is the explicit opt-in used when
// normalizing stored data whose untagged entries are known to be
// server originals. An empty input yields empty results.
func DecodeDefault(tagged string) (string, State) {
	path, s, ok := Decode(tagged)
	if ok {
		return path, s
	}

	if path == "" {
		return "", ""
	}

	return path, StateOriginal
}

// IsDeleted reports whether tagged carries the delete suffix.
func IsDeleted(tagged string) bool {
	_, s, ok := Decode(tagged)
	return ok && s == StateDelete
}
