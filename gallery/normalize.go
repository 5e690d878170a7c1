package gallery

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Normalize converts raw stored image data into a Collection of remote
// entries in canonical tagged form. raw may be already-canonical tagged
// strings, rows in the legacy "<integer>-<url>" sort-prefix format, or
// nil (treated as empty). The whole input is treated as legacy when the
// first element carries a numeric sort prefix.
func Normalize(raw []string) *Collection {
	c := NewCollection()

	for _, tagged := range NormalizeStrings(raw) {
		path, s := DecodeDefault(tagged)
		c.entries = append(c.entries, newRemoteEntry(c, path, s))
	}

	return c
}

// NormalizeJSON is Normalize for a raw JSON value as returned by the
// host API. Non-array input yields an empty collection; non-string
// members are dropped silently.
func NormalizeJSON(data []byte) *Collection {
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return NewCollection()
	}

	var raw []string

	for _, el := range parsed.Array() {
		if el.Type != gjson.String {
			continue
		}

		raw = append(raw, el.Str)
	}

	return Normalize(raw)
}

// NormalizeStrings returns the canonical tagged strings for raw without
// building a Collection. Empty and malformed elements are dropped;
// untagged survivors are tagged original.
func NormalizeStrings(raw []string) []string {
	if len(raw) > 0 && hasSortPrefix(raw[0]) {
		raw = stripSortOrder(raw)
	}

	out := make([]string, 0, len(raw))

	for _, el := range raw {
		if el == "" {
			continue
		}

		path, s := DecodeDefault(el)
		if path == "" {
			continue
		}

		out = append(out, Encode(path, s))
	}

	return out
}

// hasSortPrefix reports whether s starts with "<integer>-", the legacy
// database format carrying an externally maintained sort key.
func hasSortPrefix(s string) bool {
	i := strings.IndexByte(s, '-')
	if i <= 0 {
		return false
	}

	for _, r := range s[:i] {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// stripSortOrder sorts legacy rows ascending by their leading integer
// and strips the prefix. Rows without a prefix sort as key 0 (the
// storage layer substitutes "00" for a missing order number) and break
// ties among themselves by string order.
func stripSortOrder(raw []string) []string {
	type row struct {
		key int
		val string
	}

	rows := make([]row, 0, len(raw))

	for _, el := range raw {
		r := row{val: el}

		if hasSortPrefix(el) {
			i := strings.IndexByte(el, '-')

			// Atoi clamps to the max int on range overflow, which is
			// exactly the key a too-large prefix should sort under.
			n, err := strconv.Atoi(el[:i])
			if err == nil || errors.Is(err, strconv.ErrRange) {
				r.key = n
				r.val = el[i+1:]
			}
		}

		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key < rows[j].key
		}

		return rows[i].val < rows[j].val
	})

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.val
	}

	return out
}
