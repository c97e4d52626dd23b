package app

import (
	"path/filepath"

	"github.com/hyperifyio/helmet/internal/papers"
)

// Layout names every path of the persisted output tree under Root.
type Layout struct {
	Root string
}

func (l Layout) Storage() string { return filepath.Join(l.Root, "paper_storage") }
func (l Layout) Redacted() string { return filepath.Join(l.Storage(), papers.RedactedDir) }
func (l Layout) IndexCSV() string { return filepath.Join(l.Root, "index_db", "index_db.csv") }
func (l Layout) QueryCSV() string { return filepath.Join(l.Root, "query_db", "query_db.csv") }
func (l Layout) SLRList() string { return filepath.Join(l.Root, "slr_papers.csv") }
func (l Layout) TablesRoot() string { return filepath.Join(l.Root, "slr_tables") }
func (l Layout) RawTables() string { return TableDirs{l.TablesRoot()}.Raw() }
func (l Layout) KeptTables() string { return TableDirs{l.TablesRoot()}.Kept() }
func (l Layout) DiscTables() string { return TableDirs{l.TablesRoot()}.Discarded() }
func (l Layout) SLRDB() string { return filepath.Join(l.TablesRoot(), "slr_db.csv") }
func (l Layout) LabelCSV() string { return filepath.Join(l.Root, "label_db", "label.csv") }
func (l Layout) Instructions() string { return filepath.Join("DataLake", "slr_cem.txt") }

// TableDirs names the table folders under an slr_tables root.
type TableDirs struct {
	Root string
}

func (d TableDirs) Raw() string { return filepath.Join(d.Root, "slr_tables_text_files") }
func (d TableDirs) Kept() string { return filepath.Join(d.Root, "kept_tables") }
func (d TableDirs) Discarded() string { return filepath.Join(d.Root, "discarded_tables") }
