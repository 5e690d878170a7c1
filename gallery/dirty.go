package gallery

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Snapshot is an immutable copy of a collection's canonical tagged
// strings, taken at the last clean instant (initial load or right
// after a successful save). It is only ever replaced wholesale, never
// patched, and is consulted purely for dirty-checking.
type Snapshot struct {
	tagged []string
}

// Snapshot captures the collection's current canonical form. Meant to
// be taken when the collection is clean; local entries have no wire
// form and are not captured.
func (c *Collection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{tagged: make([]string, 0, len(c.entries))}

	for _, e := range c.entries {
		if tagged, ok := e.taggedLocked(); ok {
			s.tagged = append(s.tagged, tagged)
		}
	}

	return s
}

// SnapshotOf rebuilds a snapshot from persisted tagged strings, for
// hosts that store the last clean state across sessions.
func SnapshotOf(tagged []string) Snapshot {
	s := Snapshot{tagged: make([]string, len(tagged))}
	copy(s.tagged, tagged)

	return s
}

// Tagged returns a copy of the snapshot's tagged strings.
func (s Snapshot) Tagged() []string {
	out := make([]string, len(s.tagged))
	copy(out, s.tagged)

	return out
}

// Dirty reports whether the collection has diverged from snap. The
// comparison is structural and order-sensitive: a length difference or
// any positional pair of tagged strings differing means dirty. A
// collection holding any local entry is always dirty, since a snapshot
// never contains one.
func (c *Collection) Dirty(snap Snapshot) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) != len(snap.tagged) {
		return true
	}

	for i, e := range c.entries {
		tagged, ok := e.taggedLocked()
		if !ok || tagged != snap.tagged[i] {
			return true
		}
	}

	return false
}

// Changes renders a line-per-entry summary of how the collection
// diverged from snap, for unsaved-changes prompts. Removed lines are
// prefixed "-", added lines "+", unchanged lines two spaces. Staged
// local entries appear as "<filename> (pending upload)". Returns ""
// when nothing changed.
func (c *Collection) Changes(snap Snapshot) string {
	if !c.Dirty(snap) {
		return ""
	}

	before := joinLines(snap.tagged)

	var current []string

	for _, e := range c.Entries() {
		if tagged, ok := e.Tagged(); ok {
			current = append(current, tagged)
		} else {
			current = append(current, e.Filename()+" (pending upload)")
		}
	}

	after := joinLines(current)

	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder

	for _, d := range diffs {
		prefix := "  "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}

		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			if line == "" {
				continue
			}

			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}
