package tables

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hyperifyio/helmet/internal/fetch"
)

// Strategy is one way of locating the tables of a document.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, documentID string) (Result, error)
}

// Getter is the HTTP capability strategies need.
type Getter interface {
	Get(ctx context.Context, rawURL string) (fetch.Response, error)
}

const (
	DefaultEUtilsURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	DefaultPMCURL    = "https://www.ncbi.nlm.nih.gov"
)

// Endpoints locates the NCBI services. Zero fields use the public hosts.
type Endpoints struct {
	EUtils string
	PMC    string
}

func (e Endpoints) eutils() string {
	if e.EUtils == "" {
		return DefaultEUtilsURL
	}
	return strings.TrimRight(e.EUtils, "/")
}

func (e Endpoints) pmc() string {
	if e.PMC == "" {
		return DefaultPMCURL
	}
	return strings.TrimRight(e.PMC, "/")
}

func (e Endpoints) efetch(id string) string {
	return fmt.Sprintf("%s/efetch.fcgi?db=pmc&id=%s&retmode=xml", e.eutils(), url.QueryEscape(numericID(id)))
}

func (e Endpoints) idconv(id string) string {
	return fmt.Sprintf("%s/pmc/utils/idconv/v1.0/?ids=%s&format=xml", e.pmc(), url.QueryEscape(numericID(id)))
}

func (e Endpoints) classic(id string) string {
	return fmt.Sprintf("%s/pmc/articles/PMC%s/?report=classic", e.pmc(), numericID(id))
}

func (e Endpoints) oa(id string) string {
	return fmt.Sprintf("%s/pmc/utils/oa/oa.py?id=PMC%s&format=xml", e.pmc(), numericID(id))
}

func (e Endpoints) probe(id string, n int) string {
	return fmt.Sprintf("%s/pmc/articles/PMC%s/table/T%d/?report=objectonly", e.pmc(), numericID(id), n)
}

// resolve makes ref absolute against the PMC host.
func (e Endpoints) resolve(ref string) string {
	base, err := url.Parse(e.pmc() + "/")
	if err != nil {
		return ref
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// numericID strips an optional PMC prefix.
func numericID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 3 && strings.EqualFold(id[:3], "PMC") {
		return id[3:]
	}
	return id
}

// lastSegment returns the final non-empty path segment of a URL.
func lastSegment(raw string) string {
	u, err := url.Parse(raw)
	p := raw
	if err == nil {
		p = u.Path
	}
	return path.Base(strings.TrimRight(p, "/"))
}

func getDocument(ctx context.Context, g Getter, rawURL string) (*goquery.Document, error) {
	res, err := g.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// htmlTable reads a rendered table: every th is a header cell, every row with
// at least one td is a data row.
func htmlTable(tbl *goquery.Selection) (header []string, rows [][]string) {
	tbl.Find("th").Each(func(_ int, th *goquery.Selection) {
		header = append(header, cellText(th))
	})
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() == 0 {
			return
		}
		row := make([]string, 0, tds.Length())
		tds.Each(func(_ int, td *goquery.Selection) {
			row = append(row, cellText(td))
		})
		rows = append(rows, row)
	})
	return header, rows
}

// cellText collects the text under the selection's nodes, skipping script and
// style content, and normalizes it.
func cellText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style", "noscript":
				return
			case "br":
				b.WriteByte(' ')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return normalizeCell(b.String())
}

// pageResult turns a single-object page (linked or probed) into a record or,
// failing that, an image sidecar.
func pageResult(doc *goquery.Document, ep Endpoints, documentID, tid, source string) Result {
	if tbl := doc.Find("table").First(); tbl.Length() > 0 {
		header, rows := htmlTable(tbl)
		rec := Record{DocumentID: documentID, TableID: tid, Header: header, Rows: rows, Source: source}
		if rec.Empty() {
			return Result{}
		}
		return Result{Tables: []Record{rec}}
	}
	if src, ok := doc.Find("img[src]").First().Attr("src"); ok && strings.TrimSpace(src) != "" {
		return Result{Images: []Image{{DocumentID: documentID, TableID: tid, URL: ep.resolve(src), Source: source}}}
	}
	return Result{}
}
