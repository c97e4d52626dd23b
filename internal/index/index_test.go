package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/helmet/internal/article"
	"github.com/hyperifyio/helmet/internal/merge"
)

func TestBuildMergesAndReportsDelta(t *testing.T) {
	dir := t.TempDir()
	storage := filepath.Join(dir, "paper_storage")
	require.NoError(t, article.Save(article.Path(storage, "1"), article.Article{PMCID: " 1 ", Title: "A", Type: " BIM "}))
	require.NoError(t, article.Save(article.Path(storage, "2"), article.Article{PMCID: "2", Title: "B", Type: "slr_cem"}))
	require.NoError(t, article.Save(article.Path(storage, "blank"), article.Article{Title: "no id"}))
	require.NoError(t, os.WriteFile(filepath.Join(storage, "junk.json"), []byte("{"), 0o644))

	b := &Builder{StorageDir: storage, IndexPath: filepath.Join(dir, "index_db", "index_db.csv"), Policy: merge.KeepIfTypeDiffers}
	rep, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Added)

	s, err := merge.Load(b.IndexPath, Schema)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "1", s.Rows[0]["pmcid"])
	assert.Equal(t, "bim", s.Rows[0]["type"])

	rep, err = b.Build()
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Added)
	assert.Equal(t, 2, rep.Duplicates)

	require.NoError(t, article.Save(article.Path(storage, "2"), article.Article{PMCID: "2", Title: "B", Type: "slr_bim"}))
	rep, err = b.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	s, err = merge.Load(b.IndexPath, Schema)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestBuildMissingStorage(t *testing.T) {
	dir := t.TempDir()
	b := &Builder{StorageDir: filepath.Join(dir, "none"), IndexPath: filepath.Join(dir, "idx.csv")}
	rep, err := b.Build()
	require.NoError(t, err)
	assert.Zero(t, rep.Added)
	assert.NoFileExists(t, b.IndexPath)
}
