package merge

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyFunc derives the identity of a row. An empty key marks a row that is
// skipped.
type KeyFunc func(Row) string

// Column keys rows by one column.
func Column(name string) KeyFunc {
	return func(r Row) string { return strings.TrimSpace(r[name]) }
}

// Columns keys rows by several columns joined with a NUL byte. A row with
// any key column blank has no key.
func Columns(names ...string) KeyFunc {
	return func(r Row) string {
		parts := make([]string, len(names))
		for i, n := range names {
			v := strings.TrimSpace(r[n])
			if v == "" {
				return ""
			}
			parts[i] = v
		}
		return strings.Join(parts, "\x00")
	}
}

// Policy says what happens when a batch row's key is already stored.
type Policy int

const (
	// KeepLast replaces the stored rows with the new one.
	KeepLast Policy = iota
	// KeepIfTypeDiffers replaces only when the type column changed; otherwise
	// the new row is a duplicate and the stored row stays.
	KeepIfTypeDiffers
	// KeepIfHashChanged replaces all rows of a key when the hash column
	// changed; an unchanged hash leaves the stored rows alone.
	KeepIfHashChanged
)

func (p Policy) String() string {
	switch p {
	case KeepLast:
		return "keep-last"
	case KeepIfTypeDiffers:
		return "keep-if-type-differs"
	case KeepIfHashChanged:
		return "keep-if-hash-changed"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy reads a policy name as printed by String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep-last", "last":
		return KeepLast, nil
	case "keep-if-type-differs", "type":
		return KeepIfTypeDiffers, nil
	case "keep-if-hash-changed", "hash":
		return KeepIfHashChanged, nil
	}
	return 0, fmt.Errorf("unknown merge policy %q", s)
}

// Report is the delta a merge produced. Counts are per key.
type Report struct {
	Added      int
	Updated    int
	Duplicates int
	Unchanged  int
}

// Merger folds batches into stores.
type Merger struct {
	Key    KeyFunc
	Policy Policy
	// TypeColumn and HashColumn default to "type" and "abstract_hash".
	TypeColumn string
	HashColumn string
}

func (m Merger) typeCol() string {
	if m.TypeColumn == "" {
		return "type"
	}
	return m.TypeColumn
}

func (m Merger) hashCol() string {
	if m.HashColumn == "" {
		return "abstract_hash"
	}
	return m.HashColumn
}

// Eligible reports whether a key with the given hash needs (re)processing:
// the key is absent or its stored hash differs.
func (m Merger) Eligible(s *Store, key, hash string) bool {
	for _, r := range s.Rows {
		if m.Key(r) == key {
			return r[m.hashCol()] != hash
		}
	}
	return true
}

// Merge folds batch into s in place and reports the delta. Keyless batch rows
// are dropped. Rows that land in the store are appended in batch order.
func (m Merger) Merge(s *Store, batch []Row) Report {
	var rep Report
	stored := s.Keys(m.Key)
	for _, group := range groupByKey(batch, m.Key) {
		k := m.Key(group[0])
		rows := group
		if m.Policy != KeepIfHashChanged {
			rows = group[len(group)-1:]
		}
		if !stored[k] {
			s.replace(k, m.Key, rows)
			rep.Added++
			continue
		}
		cur := s.first(k, m.Key)
		switch m.Policy {
		case KeepIfTypeDiffers:
			if strings.EqualFold(strings.TrimSpace(cur[m.typeCol()]), strings.TrimSpace(rows[0][m.typeCol()])) {
				rep.Duplicates++
				continue
			}
		case KeepIfHashChanged:
			if cur[m.hashCol()] == rows[0][m.hashCol()] {
				rep.Unchanged++
				continue
			}
		}
		s.replace(k, m.Key, rows)
		rep.Updated++
	}
	return rep
}

// groupByKey splits batch into per-key groups in first-seen order, dropping
// keyless rows. Under KeepLast and KeepIfTypeDiffers only the last row of a
// group matters; KeepIfHashChanged stores the whole group.
func groupByKey(batch []Row, key KeyFunc) [][]Row {
	idx := map[string]int{}
	var groups [][]Row
	for _, r := range batch {
		k := key(r)
		if k == "" {
			continue
		}
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}

func (s *Store) first(k string, key KeyFunc) Row {
	for _, r := range s.Rows {
		if key(r) == k {
			return r
		}
	}
	return nil
}

// replace drops every stored row with key k and appends rows.
func (s *Store) replace(k string, key KeyFunc, rows []Row) {
	kept := s.Rows[:0]
	for _, r := range s.Rows {
		if key(r) != k {
			kept = append(kept, r)
		}
	}
	s.Rows = append(kept, rows...)
}

// ContentHash is the MD5 hex digest of the trimmed text, or "" for blank
// text. It is a change detector, not a security measure.
func ContentHash(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	sum := md5.Sum([]byte(t))
	return hex.EncodeToString(sum[:])
}
