// Package index folds the per-paper JSON records into the index CSV.
package index

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/article"
	"github.com/hyperifyio/helmet/internal/merge"
)

// Schema is the column order of index_db.csv.
var Schema = []string{"pmcid", "first_author", "title", "source", "year", "abstract", "type"}

// Builder merges a storage directory into an index file.
type Builder struct {
	StorageDir string
	IndexPath  string
	Policy     merge.Policy
}

// Build scans StorageDir and merges its records into IndexPath. It returns
// the merge delta.
func (b *Builder) Build() (merge.Report, error) {
	var rep merge.Report
	articles, err := article.LoadDir(b.StorageDir)
	if err != nil {
		return rep, err
	}
	store, err := merge.Load(b.IndexPath, Schema)
	if err != nil {
		return rep, err
	}
	batch := make([]merge.Row, 0, len(articles))
	for _, a := range articles {
		if row := Row(a); row != nil {
			batch = append(batch, row)
		}
	}
	m := merge.Merger{Key: merge.Column("pmcid"), Policy: b.Policy}
	rep = m.Merge(store, batch)
	if rep.Added == 0 && rep.Updated == 0 {
		log.Info().Int("rows", store.Len()).Msg("no new articles added")
		return rep, nil
	}
	if err := store.Save(); err != nil {
		return rep, err
	}
	log.Info().Int("added", rep.Added).Int("updated", rep.Updated).Int("duplicates", rep.Duplicates).Str("policy", b.Policy.String()).Msg("index updated")
	return rep, nil
}

// Row converts an article to an index row, or nil when it has no pmcid.
func Row(a article.Article) merge.Row {
	id := strings.TrimSpace(a.PMCID)
	if id == "" {
		return nil
	}
	return merge.Row{
		"pmcid":        id,
		"first_author": a.FirstAuthor,
		"title":        a.Title,
		"source":       a.Source,
		"year":         a.Year,
		"abstract":     a.Abstract,
		"type":         strings.ToLower(strings.TrimSpace(a.Type)),
	}
}
