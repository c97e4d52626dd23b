// Package merge keeps the pipeline's cumulative CSV databases: it loads a
// store, folds a new batch into it under an explicit duplicate policy and
// saves it back atomically.
package merge

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hyperifyio/helmet/internal/fsutil"
)

// Row is one record keyed by column name.
type Row map[string]string

// Store is a CSV file held in memory. Schema fixes the column order on save.
type Store struct {
	Path   string
	Schema []string
	Rows   []Row
}

// Load reads path. A missing file yields an empty store. Columns the file has
// beyond schema are kept after the schema columns; schema columns the file
// lacks read as empty.
func Load(path string, schema []string) (*Store, error) {
	s := &Store{Path: path, Schema: append([]string(nil), schema...)}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	known := map[string]bool{}
	for _, c := range s.Schema {
		known[c] = true
	}
	for _, c := range header {
		if !known[c] {
			known[c] = true
			s.Schema = append(s.Schema, c)
		}
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := Row{}
		for i, c := range header {
			if i < len(rec) {
				row[c] = rec[i]
			}
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

// Encode renders the store as CSV with a header row.
func (s *Store) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.Schema); err != nil {
		return nil, err
	}
	rec := make([]string, len(s.Schema))
	for _, row := range s.Rows {
		for i, c := range s.Schema {
			rec[i] = row[c]
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Save writes the whole store through a temp file and a rename, so a crash
// leaves either the previous file or the complete new one.
func (s *Store) Save() error {
	if s.Path == "" {
		return errors.New("merge: store has no path")
	}
	b, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.Path, err)
	}
	return fsutil.WriteFileAtomic(s.Path, b, 0o644)
}

// Len is the number of rows.
func (s *Store) Len() int { return len(s.Rows) }

// Keys returns the set of keys present.
func (s *Store) Keys(key KeyFunc) map[string]bool {
	out := make(map[string]bool, len(s.Rows))
	for _, r := range s.Rows {
		if k := key(r); k != "" {
			out[k] = true
		}
	}
	return out
}
