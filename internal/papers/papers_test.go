package papers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/helmet/internal/article"
	"github.com/hyperifyio/helmet/internal/index"
	"github.com/hyperifyio/helmet/internal/merge"
	"github.com/hyperifyio/helmet/internal/pubmed"
)

type fakeSource struct {
	ids       map[string][]string
	queries   []string
	fullText  map[string]string
	summaries int
	fullCalls int
}

func (f *fakeSource) Search(_ context.Context, q string, _ int) ([]string, error) {
	f.queries = append(f.queries, q)
	if q == "broken" {
		return nil, errors.New("search down")
	}
	return f.ids[q], nil
}

func (f *fakeSource) Summary(_ context.Context, id string) (pubmed.Summary, error) {
	f.summaries++
	if id == "bad" {
		return pubmed.Summary{}, pubmed.ErrNoRecord
	}
	return pubmed.Summary{PMCID: id, FirstAuthor: "Smith J", Title: "Title " + id, Source: "J Econ", Year: "2021"}, nil
}

func (f *fakeSource) Abstract(_ context.Context, id string) (string, error) {
	return "Abstract of " + id + ".", nil
}

func (f *fakeSource) FullText(_ context.Context, id string) (string, error) {
	f.fullCalls++
	return f.fullText[id], nil
}

const articleXML = `<article><front><abstract><p>secret</p></abstract></front><body><sec><title>Methods</title><p>We did it.</p></sec></body></article>`

func writeInstructions(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestHarvestPrimaryRedactsAbstract(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		ids:      map[string][]string{"budget impact": {"101", "bad"}},
		fullText: map[string]string{"101": articleXML},
	}
	h := &Harvester{Source: src, StorageDir: filepath.Join(dir, "paper_storage")}
	st, err := h.Run(context.Background(), writeInstructions(t, dir, "bim.txt", "# comment\nbudget impact\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Found)
	assert.Equal(t, 1, st.Saved)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.FullText)

	a, err := article.Load(article.Path(h.StorageDir, "101"))
	require.NoError(t, err)
	assert.Equal(t, "bim", a.Type)
	assert.Equal(t, "Abstract of 101.", a.Abstract)

	b, err := os.ReadFile(filepath.Join(h.StorageDir, RedactedDir, "101_full_text.xml"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.Contains(t, string(b), "<title>Methods</title>")
}

func TestHarvestSLRKeepsFullTextAndResumes(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		ids:      map[string][]string{"review": {"7"}},
		fullText: map[string]string{"7": articleXML},
	}
	h := &Harvester{Source: src, StorageDir: dir}
	path := writeInstructions(t, dir, "slr_cem.txt", "review\n")
	_, err := h.Run(context.Background(), path)
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, SLRDir, "7_full_text.xml"))
	require.NoError(t, err)
	assert.Equal(t, articleXML, string(b))

	st, err := h.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 1, src.summaries)
	assert.Equal(t, 1, src.fullCalls)
}

func TestMultiLineQueryIsOneSearch(t *testing.T) {
	dir := t.TempDir()
	q := `("budget impact"[Title] OR "BIA"[Title]) AND (cost[tiab])`
	src := &fakeSource{ids: map[string][]string{q: {"5"}}}
	h := &Harvester{Source: src, StorageDir: dir}
	body := "# budget impact reviews\n(\"budget impact\"[Title] OR \"BIA\"[Title])\n\n  AND (cost[tiab])\n"
	st, err := h.Run(context.Background(), writeInstructions(t, dir, "bim.txt", body))
	require.NoError(t, err)
	assert.Equal(t, []string{q}, src.queries)
	assert.Equal(t, 1, st.Saved)
}

func TestSearchFailureIsReturned(t *testing.T) {
	dir := t.TempDir()
	h := &Harvester{Source: &fakeSource{}, StorageDir: dir}
	_, err := h.Run(context.Background(), writeInstructions(t, dir, "bim.txt", "broken\n"))
	require.Error(t, err)
}

func TestEmptyInstructionsRejected(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	h := &Harvester{Source: src, StorageDir: dir}
	_, err := h.Run(context.Background(), writeInstructions(t, dir, "bim.txt", "# only a comment\n\n"))
	require.Error(t, err)
	assert.Empty(t, src.queries)
}

func TestReclassifiedArticleFlowsToIndexAndReviews(t *testing.T) {
	dir := t.TempDir()
	storage := filepath.Join(dir, "paper_storage")
	src := &fakeSource{
		ids:      map[string][]string{"budget impact": {"5"}, "budget impact review": {"5"}},
		fullText: map[string]string{"5": articleXML},
	}
	h := &Harvester{Source: src, StorageDir: storage}
	ib := &index.Builder{StorageDir: storage, IndexPath: filepath.Join(dir, "index_db.csv"), Policy: merge.KeepIfTypeDiffers}

	_, err := h.Run(context.Background(), writeInstructions(t, dir, "bim.txt", "budget impact\n"))
	require.NoError(t, err)
	rep, err := ib.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Added)

	st, err := h.Run(context.Background(), writeInstructions(t, dir, "slr_bim.txt", "budget impact review\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Retyped)
	assert.Equal(t, 1, src.summaries, "retyping reuses the stored metadata")

	a, err := article.Load(article.Path(storage, "5"))
	require.NoError(t, err)
	assert.Equal(t, "slr_bim", a.Type)
	assert.Equal(t, "Title 5", a.Title)
	assert.FileExists(t, filepath.Join(storage, SLRDir, "5_full_text.xml"))

	rep, err = ib.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	store, err := merge.Load(ib.IndexPath, index.Schema)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
	assert.Equal(t, "slr_bim", store.Rows[0]["type"])

	ids, err := article.CollectSLR(storage, filepath.Join(dir, "slr_papers.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, ids)

	st, err = h.Run(context.Background(), writeInstructions(t, dir, "slr_bim.txt", "budget impact review\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Skipped)
	assert.Zero(t, st.Retyped)
}

func TestUnknownTypeSkipsFullText(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{ids: map[string][]string{"q": {"9"}}, fullText: map[string]string{"9": articleXML}}
	h := &Harvester{Source: src, StorageDir: dir}
	_, err := h.Run(context.Background(), writeInstructions(t, dir, "other.txt", "q\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, src.fullCalls)
	assert.FileExists(t, article.Path(dir, "9"))
}

func TestMissingInstructions(t *testing.T) {
	h := &Harvester{Source: &fakeSource{}, StorageDir: t.TempDir()}
	_, err := h.Run(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestFullTextPath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", RedactedDir, "1_full_text.xml"), FullTextPath("s", "1", "cem"))
	assert.Equal(t, filepath.Join("s", SLRDir, "1_full_text.xml"), FullTextPath("s", "1", "slr_bim"))
	assert.Empty(t, FullTextPath("s", "1", "misc"))
}

func TestRedactMultiple(t *testing.T) {
	out, err := Redact(`<article><abstract>a</abstract><abstract abstract-type="short">b</abstract><body/></article>`)
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "abstract"))
}
