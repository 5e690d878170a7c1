package gallery

import (
	"errors"
	"fmt"
)

// ErrLocalEntries is returned by Serialize when the collection still
// holds staged local entries. Serializing before Commit would silently
// drop a pending upload, so it fails loudly instead.
var ErrLocalEntries = errors.New("collection has entries pending upload")

// Serialize projects the collection into the submission payload: one
// canonical tagged string per entry, in collection order. Delete-tagged
// entries are included; the backend consumes the tag to decide
// insert, keep, or delete. Call only after Commit has resolved every
// local entry.
func (c *Collection) Serialize() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))

	for i, e := range c.entries {
		tagged, ok := e.taggedLocked()
		if !ok {
			return nil, fmt.Errorf("%w: entry %d (%s)", ErrLocalEntries, i+1, e.filenameLocked())
		}

		out = append(out, tagged)
	}

	return out, nil
}
