package gallery

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Engine errors.
var (
	// ErrIndexOutOfRange is returned when a display index does not
	// resolve to a visible entry.
	ErrIndexOutOfRange = errors.New("display index out of range")

	// ErrUnknownEntry is returned when no entry carries the given ID.
	ErrUnknownEntry = errors.New("no entry with that id")
)

// Collection is the ordered, mutable list of image entries for one
// image field on one record. It is the sole writer of its backing
// list: hosts mutate through Add/Remove/Move and observe through
// Display and OnChange subscriptions, never through a shared slice.
// Collection order is the intended final server order.
//
// All methods are safe for concurrent use; writes are serialized by an
// internal lock, matching the single-writer ownership model (one form,
// one collection).
type Collection struct {
	mu      sync.RWMutex
	entries []*Entry
	subs    []func()
}

// NewCollection returns an empty collection. Loaded records start from
// Normalize instead.
func NewCollection() *Collection {
	return &Collection{}
}

// Len returns the total number of entries, including delete-tagged
// ones that no longer appear in the display projection.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Entries returns the entries in storage order, including delete-tagged
// ones. The returned slice is a copy; the entries are shared.
func (c *Collection) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)

	return out
}

// Display returns the projection shown to the user: every entry except
// those tagged delete, in storage order.
func (c *Collection) Display() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.displayLocked()
}

func (c *Collection) displayLocked() []*Entry {
	out := make([]*Entry, 0, len(c.entries))

	for _, e := range c.entries {
		if e.kind == KindRemote && e.state == StateDelete {
			continue
		}

		out = append(out, e)
	}

	return out
}

// OnChange registers fn to run after every successful mutation,
// including the in-place replacements performed by Commit. Callbacks
// run outside the collection lock, so they may call back into the
// collection.
func (c *Collection) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs = append(c.subs, fn)
}

func (c *Collection) notify() {
	c.mu.RLock()
	subs := make([]func(), len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}

// AddOption configures a staged local entry.
type AddOption func(*Entry)

// WithPreview attaches a preview handle to the staged entry and a
// release hook that runs exactly once when the entry leaves the
// collection or is converted to remote by a successful upload.
func WithPreview(handle string, release func()) AddOption {
	return func(e *Entry) {
		e.preview = handle
		e.release = release
	}
}

// Add stages src for upload, appending a local entry at the tail.
// added is false when a local entry with the same filename is already
// staged; the duplicate is ignored and the existing entry returned.
// Filenames are compared in NFC form so the same name entered from
// different platforms counts as one file.
func (c *Collection) Add(src Source, opts ...AddOption) (e *Entry, added bool) {
	name := norm.NFC.String(src.Filename())

	c.mu.Lock()

	for _, ex := range c.entries {
		if ex.kind == KindLocal && norm.NFC.String(ex.source.Filename()) == name {
			c.mu.Unlock()
			return ex, false
		}
	}

	e = newLocalEntry(c, src, "", nil)
	for _, opt := range opts {
		opt(e)
	}

	c.entries = append(c.entries, e)
	c.mu.Unlock()

	c.notify()

	return e, true
}

// Remove removes the entry at the given display index. A local entry
// is spliced out entirely and its preview released. A remote original
// is retagged delete in place so the backend sees the deletion. A
// remote entry tagged add was uploaded this session but never saved,
// so the server has no record of it; it is spliced out as if it never
// existed.
func (c *Collection) Remove(displayIndex int) error {
	c.mu.Lock()

	si, err := c.storageIndexLocked(displayIndex)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.removeAtLocked(si)
	c.mu.Unlock()

	c.notify()

	return nil
}

// RemoveID removes the entry with the given stable ID, with the same
// semantics as Remove. Removing an entry already tagged delete is a
// no-op.
func (c *Collection) RemoveID(id string) error {
	c.mu.Lock()

	si := -1

	for i, e := range c.entries {
		if e.id == id {
			si = i
			break
		}
	}

	if si < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}

	if e := c.entries[si]; e.kind == KindRemote && e.state == StateDelete {
		c.mu.Unlock()
		return nil
	}

	c.removeAtLocked(si)
	c.mu.Unlock()

	c.notify()

	return nil
}

func (c *Collection) removeAtLocked(si int) {
	e := c.entries[si]

	switch {
	case e.kind == KindLocal:
		e.releasePreview()
		c.entries = append(c.entries[:si], c.entries[si+1:]...)

	case e.state == StateAdd:
		c.entries = append(c.entries[:si], c.entries[si+1:]...)

	default:
		e.state = StateDelete
	}
}

// Move moves the entry at display index from so that it occupies
// display index to. Only position changes; every entry keeps its own
// tag. Both indices are resolved against the live collection.
func (c *Collection) Move(from, to int) error {
	c.mu.Lock()

	si, err := c.storageIndexLocked(from)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := c.moveToDisplayLocked(si, to); err != nil {
		c.mu.Unlock()
		return err
	}

	c.mu.Unlock()
	c.notify()

	return nil
}

// MoveID moves the entry with the given stable ID to display index to.
// The entry must be visible (not tagged delete).
func (c *Collection) MoveID(id string, to int) error {
	c.mu.Lock()

	si := -1

	for i, e := range c.entries {
		if e.id == id {
			si = i
			break
		}
	}

	if si < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}

	if e := c.entries[si]; e.kind == KindRemote && e.state == StateDelete {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is deleted", ErrUnknownEntry, id)
	}

	if err := c.moveToDisplayLocked(si, to); err != nil {
		c.mu.Unlock()
		return err
	}

	c.mu.Unlock()
	c.notify()

	return nil
}

// moveToDisplayLocked splices the entry at storage index si out and
// reinserts it so that it lands at display index to.
func (c *Collection) moveToDisplayLocked(si, to int) error {
	e := c.entries[si]

	rest := make([]*Entry, 0, len(c.entries)-1)
	rest = append(rest, c.entries[:si]...)
	rest = append(rest, c.entries[si+1:]...)

	// Visible entries of the remaining list, in storage order.
	visible := make([]int, 0, len(rest))

	for i, r := range rest {
		if r.kind == KindRemote && r.state == StateDelete {
			continue
		}

		visible = append(visible, i)
	}

	if to < 0 || to > len(visible) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, to)
	}

	// Insert before the entry currently holding display slot to, or at
	// the storage tail when moving past the last visible entry.
	ti := len(rest)
	if to < len(visible) {
		ti = visible[to]
	}

	c.entries = c.entries[:0]
	c.entries = append(c.entries, rest[:ti]...)
	c.entries = append(c.entries, e)
	c.entries = append(c.entries, rest[ti:]...)

	return nil
}

// storageIndexLocked resolves a display index to a storage index by
// walking the live collection and counting only entries not tagged
// delete. Display filtering shifts indices as deletions accumulate, so
// the mapping is re-derived on every call and never cached.
func (c *Collection) storageIndexLocked(displayIndex int) (int, error) {
	if displayIndex < 0 {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, displayIndex)
	}

	seen := 0

	for i, e := range c.entries {
		if e.kind == KindRemote && e.state == StateDelete {
			continue
		}

		if seen == displayIndex {
			return i, nil
		}

		seen++
	}

	return 0, fmt.Errorf("%w: %d (visible entries: %d)", ErrIndexOutOfRange, displayIndex, seen)
}

// Discard releases every staged preview handle and empties the
// collection. Called when the host abandons the edit in favor of the
// last snapshot.
func (c *Collection) Discard() {
	c.mu.Lock()

	for _, e := range c.entries {
		if e.kind == KindLocal {
			e.releasePreview()
		}
	}

	c.entries = nil
	c.mu.Unlock()

	c.notify()
}
