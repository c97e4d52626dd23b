// Package tables harvests the tables of a PMC article through a chain of
// extraction strategies and persists each one as pipe-delimited text.
package tables

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Record is one structured table.
type Record struct {
	DocumentID string
	TableID    string
	Header     []string
	Rows       [][]string
	// Source names the strategy that produced the record.
	Source string
}

// Empty reports whether the record carries no cells at all.
func (r Record) Empty() bool {
	return len(r.Header) == 0 && len(r.Rows) == 0
}

// Encode renders the record as pipe-delimited text: the header row first when
// present, then one line per row. Cells containing a pipe, a quote or a line
// break are quoted the way a CSV writer quotes them.
func (r Record) Encode() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '|'
	if len(r.Header) > 0 {
		_ = w.Write(r.Header)
	}
	for _, row := range r.Rows {
		_ = w.Write(row)
	}
	w.Flush()
	return buf.Bytes()
}

// Image is a table published only as a picture.
type Image struct {
	DocumentID string
	TableID    string
	URL        string
	Source     string
}

// Result is what one strategy found for one document.
type Result struct {
	Tables []Record
	Images []Image
}

func (r *Result) add(o Result) {
	r.Tables = append(r.Tables, o.Tables...)
	r.Images = append(r.Images, o.Images...)
}

// normalizeCell applies NFKC and collapses runs of whitespace, so ligatures,
// non-breaking spaces and markup line breaks do not leak into the text files.
func normalizeCell(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// tableID turns a caption label such as "Table 2" into a file-safe id, falling
// back to T{n} for unlabeled tables.
func tableID(label string, index int) string {
	label = strings.Join(strings.Fields(label), "_")
	label = strings.NewReplacer("/", "-", "\\", "-").Replace(label)
	if label == "" {
		return "T" + strconv.Itoa(index+1)
	}
	return label
}
