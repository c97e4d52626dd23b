package tables

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/helmet/internal/fetch"
)

var testEP = Endpoints{EUtils: "http://eutils.test", PMC: "http://pmc.test"}

// fakeGetter serves canned bodies by URL; unknown URLs are 404s.
type fakeGetter struct {
	pages  map[string]string
	status map[string]int
	calls  []string
}

func (f *fakeGetter) Get(_ context.Context, u string) (fetch.Response, error) {
	f.calls = append(f.calls, u)
	if code, ok := f.status[u]; ok {
		return fetch.Response{}, &fetch.StatusError{URL: u, Status: code}
	}
	body, ok := f.pages[u]
	if !ok {
		return fetch.Response{}, &fetch.StatusError{URL: u, Status: http.StatusNotFound}
	}
	return fetch.Response{Status: 200, Body: []byte(body)}, nil
}

const jatsArticle = `<?xml version="1.0"?><pmc-articleset><article><body>
<table-wrap id="tab1"><label>Table 1</label><caption><p>Included studies</p></caption>
<table><thead><tr><th>Author</th><th>Year</th><th>Cost</th></tr></thead>
<tbody><tr><td>Smith <italic>et al.</italic></td><td>2020</td><td>1,200 | 1,300</td></tr>
<tr><td>Jones</td><td>2019</td><td>900</td></tr></tbody></table></table-wrap>
<table-wrap><graphic/></table-wrap>
<table-wrap><table><tbody><tr><td>a</td></tr></tbody></table></table-wrap>
</body></article></pmc-articleset>`

func TestRecordEncode(t *testing.T) {
	r := Record{Header: []string{"Author", "Year"}, Rows: [][]string{{"Smith", "2020"}, {"A|B", `say "hi"`}}}
	assert.Equal(t, "Author|Year\nSmith|2020\n\"A|B\"|\"say \"\"hi\"\"\"\n", string(r.Encode()))

	noHeader := Record{Rows: [][]string{{"x", "y"}}}
	assert.Equal(t, "x|y\n", string(noHeader.Encode()))
}

func TestNormalizeCell(t *testing.T) {
	assert.Equal(t, "fi ligature x", normalizeCell("  \ufb01   ligature\n x "))
	assert.Equal(t, "a b", normalizeCell("a\u00a0b"))
}

func TestJATSStrategy(t *testing.T) {
	g := &fakeGetter{pages: map[string]string{testEP.efetch("PMC100"): jatsArticle}}
	s := &JATSStrategy{HTTP: g, Endpoints: testEP}
	res, err := s.Extract(context.Background(), "PMC100")
	require.NoError(t, err)
	require.Len(t, res.Tables, 2)

	first := res.Tables[0]
	assert.Equal(t, "Table_1", first.TableID)
	assert.Equal(t, []string{"Author", "Year", "Cost"}, first.Header)
	assert.Equal(t, [][]string{{"Smith et al.", "2020", "1,200 | 1,300"}, {"Jones", "2019", "900"}}, first.Rows)
	assert.Equal(t, "T3", res.Tables[1].TableID)
	assert.Equal(t, "http://eutils.test/efetch.fcgi?db=pmc&id=100&retmode=xml", g.calls[0])
}

func TestJATSStrategy_IDConvFallback(t *testing.T) {
	g := &fakeGetter{pages: map[string]string{
		testEP.efetch("7"):                       "<eFetchResult><ERROR>not available</ERROR></eFetchResult>",
		testEP.idconv("7"):                       `<pmcids><record pmcid="PMC7"><versions><version href="/pmc/articles/PMC7/v1/"/></versions></record></pmcids>`,
		"http://pmc.test/pmc/articles/PMC7/v1/?output=xml": jatsArticle,
	}}
	s := &JATSStrategy{HTTP: g, Endpoints: testEP}
	res, err := s.Extract(context.Background(), "7")
	require.NoError(t, err)
	assert.Len(t, res.Tables, 2)
}

func TestJATSStrategy_NoXML(t *testing.T) {
	g := &fakeGetter{pages: map[string]string{testEP.idconv("8"): "<pmcids/>"}}
	_, err := (&JATSStrategy{HTTP: g, Endpoints: testEP}).Extract(context.Background(), "8")
	assert.ErrorIs(t, err, ErrNoArticleXML)
}

const classicPage = `<html><body>
<div class="table-wrap" id="T1"><table><tr><th>Outcome</th><th>Arm</th><th>N</th></tr>
<tr><td>QALY</td><td>A</td><td>10</td></tr></table></div>
<div class="table-wrap"><img src="/pmc/articles/PMC200/bin/table2.jpg"></div>
<div class="table-wrap" id="T3"><img src="https://cdn.example.org/t3.gif"></div>
<a href="/pmc/articles/PMC200/table/T2/">Table 2</a>
<a href="/pmc/articles/PMC200/table/T1/">Table 1</a>
<a href="/pmc/articles/PMC200/table/T1/">Table 1 again</a>
<a href="https://elsewhere.org/table/T9/">ignored</a>
</body></html>`

func TestInlineStrategy(t *testing.T) {
	g := &fakeGetter{pages: map[string]string{testEP.classic("200"): classicPage}}
	res, err := (&InlineStrategy{HTTP: g, Endpoints: testEP}).Extract(context.Background(), "200")
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "T1", res.Tables[0].TableID)
	assert.Equal(t, []string{"Outcome", "Arm", "N"}, res.Tables[0].Header)
	assert.Equal(t, [][]string{{"QALY", "A", "10"}}, res.Tables[0].Rows)

	require.Len(t, res.Images, 2)
	assert.Equal(t, Image{DocumentID: "200", TableID: "T2", URL: "http://pmc.test/pmc/articles/PMC200/bin/table2.jpg", Source: "inline"}, res.Images[0])
	assert.Equal(t, "https://cdn.example.org/t3.gif", res.Images[1].URL)
}

func TestLinkedStrategy(t *testing.T) {
	g := &fakeGetter{pages: map[string]string{
		testEP.classic("200"): classicPage,
		"http://pmc.test/pmc/articles/PMC200/table/T1/?report=objectonly": `<html><body><table><tr><th>Author</th><th>Year</th></tr><tr><td>Lee</td><td>2018</td></tr></table></body></html>`,
		"http://pmc.test/pmc/articles/PMC200/table/T2/?report=objectonly": `<html><body><img src="/pmc/t2.png"></body></html>`,
	}}
	res, err := (&LinkedStrategy{HTTP: g, Endpoints: testEP}).Extract(context.Background(), "200")
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "T1", res.Tables[0].TableID)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "http://pmc.test/pmc/t2.png", res.Images[0].URL)
	// each distinct link fetched once, in sorted order
	assert.Equal(t, []string{
		testEP.classic("200"),
		"http://pmc.test/pmc/articles/PMC200/table/T1/?report=objectonly",
		"http://pmc.test/pmc/articles/PMC200/table/T2/?report=objectonly",
	}, g.calls)
}

func TestOATSVStrategy(t *testing.T) {
	g := &fakeGetter{pages: map[string]string{
		testEP.oa("300"): `<OA><records><record id="PMC300"><file format="tsv" href="http://files.test/pmc/tab_2.tsv"/><file format="pdf" href="http://files.test/a.pdf"/></record></records></OA>`,
		"http://files.test/pmc/tab_2.tsv": "Study\tYear\r\nKim\t2017\r\n\r\n",
	}}
	res, err := (&OATSVStrategy{HTTP: g, Endpoints: testEP}).Extract(context.Background(), "300")
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "tab_2", res.Tables[0].TableID)
	assert.Equal(t, "Study|Year\nKim|2017\n", string(res.Tables[0].Encode()))
}

func TestProbeStrategy(t *testing.T) {
	g := &fakeGetter{
		pages: map[string]string{
			testEP.probe("400", 1): `<table><tr><th>Author</th></tr><tr><td>Ng</td></tr></table>`,
			testEP.probe("400", 3): `<div><img src="/pmc/t3.png"></div>`,
		},
		status: map[string]int{testEP.probe("400", 2): 500},
	}
	res, err := (&ProbeStrategy{HTTP: g, Endpoints: testEP}).Extract(context.Background(), "400")
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "T1", res.Tables[0].TableID)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "T3", res.Images[0].TableID)
	// T4 is a 404, probing stops there
	assert.Len(t, g.calls, 4)
}

type spyStrategy struct {
	name  string
	res   Result
	err   error
	calls int
}

func (s *spyStrategy) Name() string { return s.name }
func (s *spyStrategy) Extract(context.Context, string) (Result, error) {
	s.calls++
	return s.res, s.err
}

func TestChain_StopsAtFirstStrategyWithTables(t *testing.T) {
	spies := []*spyStrategy{
		{name: "s1", res: Result{Tables: []Record{{TableID: "T1", Header: []string{"a"}}}}},
		{name: "s2"}, {name: "s3"}, {name: "s4"}, {name: "s5"},
	}
	c := &Chain{}
	for _, s := range spies {
		c.Strategies = append(c.Strategies, s)
	}
	res, name := c.Run(context.Background(), "1")
	assert.Equal(t, "s1", name)
	assert.Len(t, res.Tables, 1)
	for _, s := range spies[1:] {
		assert.Zero(t, s.calls, "strategy %s must not run", s.name)
	}
}

func TestChain_ErrorsAndImagesFallThrough(t *testing.T) {
	s1 := &spyStrategy{name: "s1", err: errors.New("network")}
	s2 := &spyStrategy{name: "s2", res: Result{Images: []Image{{TableID: "T1", URL: "u"}}}}
	s3 := &spyStrategy{name: "s3", res: Result{Images: []Image{{TableID: "T1", URL: "u"}}}}
	s4 := &spyStrategy{name: "s4"}
	s5 := &spyStrategy{name: "s5", res: Result{Tables: []Record{{TableID: "T2", Rows: [][]string{{"x"}}}}}}
	c := &Chain{Strategies: []Strategy{s1, s2, s3, s4, s5}}
	res, name := c.Run(context.Background(), "1")
	assert.Equal(t, "s5", name)
	assert.Len(t, res.Tables, 1)
	assert.Len(t, res.Images, 1, "duplicate image sidecars collapse")
	for _, s := range []*spyStrategy{s1, s2, s3, s4, s5} {
		assert.Equal(t, 1, s.calls)
	}
}

func TestExtractor_WritesFilesIdempotently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/efetch.fcgi":
			_, _ = w.Write([]byte(jatsArticle))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out := t.TempDir()
	client := &fetch.Client{MaxAttempts: 1}
	ep := Endpoints{EUtils: srv.URL, PMC: srv.URL}
	e := &Extractor{Chain: NewChain(client, ep), HTTP: client, RawDir: filepath.Join(out, "raw"), ImageDir: out}

	sum, err := e.Extract(context.Background(), "500")
	require.NoError(t, err)
	assert.Equal(t, "jats", sum.Strategy)
	require.Len(t, sum.Tables, 2)
	first, err := os.ReadFile(filepath.Join(out, "raw", "500_Table_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Author|Year|Cost\nSmith et al.|2020|\"1,200 | 1,300\"\nJones|2019|900\n", string(first))
	assert.FileExists(t, filepath.Join(out, "raw", "500_T3.txt"))

	_, err = e.Extract(context.Background(), "500")
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(out, "raw", "500_Table_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractor_ImageOnlyDocumentWritesSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/efetch.fcgi":
			_, _ = w.Write([]byte(`<article><body><p>No tables here.</p></body></article>`))
		case "/pmc/articles/PMC300/":
			_, _ = w.Write([]byte(`<html><body><div class="table-wrap" id="T1"><img src="/pmc/articles/PMC300/bin/table1.gif"></div></body></html>`))
		case "/pmc/articles/PMC300/bin/table1.gif":
			_, _ = w.Write([]byte("GIFDATA"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out := t.TempDir()
	client := &fetch.Client{MaxAttempts: 1}
	ep := Endpoints{EUtils: srv.URL, PMC: srv.URL}
	e := &Extractor{Chain: NewChain(client, ep), HTTP: client, RawDir: filepath.Join(out, "raw"), ImageDir: filepath.Join(out, "imgs")}

	sum, err := e.Extract(context.Background(), "300")
	require.NoError(t, err)
	assert.Empty(t, sum.Strategy)
	assert.Empty(t, sum.Tables)
	want := filepath.Join(out, "imgs", "300_T1.gif")
	assert.Equal(t, []string{want}, sum.Images)
	b, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "GIFDATA", string(b))
	raw, err := os.ReadDir(filepath.Join(out, "raw"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestImageExt(t *testing.T) {
	assert.Equal(t, ".jpg", imageExt("http://x/a/b.jpg?x=1"))
	assert.Equal(t, ".png", imageExt("http://x/a/b"))
}
