package article

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/merge"
)

// SLRSchema is the column order of slr_papers.csv.
var SLRSchema = []string{"pmcid"}

// CollectSLR merges the ids of every review record in storageDir into the
// CSV at csvPath and returns all ids the file now lists, in file order.
func CollectSLR(storageDir, csvPath string) ([]string, error) {
	all, err := LoadDir(storageDir)
	if err != nil {
		return nil, err
	}
	var batch []merge.Row
	for _, a := range all {
		id := strings.TrimSpace(a.PMCID)
		if id == "" || !IsSLR(a.Type) {
			continue
		}
		batch = append(batch, merge.Row{"pmcid": id})
	}
	store, err := merge.Load(csvPath, SLRSchema)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 && store.Len() == 0 {
		log.Warn().Str("dir", storageDir).Msg("no review records found")
		return nil, nil
	}
	m := merge.Merger{Key: merge.Column("pmcid"), Policy: merge.KeepIfTypeDiffers}
	rep := m.Merge(store, batch)
	if rep.Added > 0 {
		if err := store.Save(); err != nil {
			return nil, err
		}
	}
	log.Info().Int("added", rep.Added).Int("total", store.Len()).Msg("review list updated")
	ids := make([]string, 0, store.Len())
	for _, r := range store.Rows {
		ids = append(ids, r["pmcid"])
	}
	return ids, nil
}
