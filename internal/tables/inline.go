package tables

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// InlineStrategy reads div.table-wrap blocks from the classic HTML view. A
// block holding only a picture yields an image sidecar.
type InlineStrategy struct {
	HTTP      Getter
	Endpoints Endpoints
}

func (s *InlineStrategy) Name() string { return "inline" }

func (s *InlineStrategy) Extract(ctx context.Context, documentID string) (Result, error) {
	doc, err := getDocument(ctx, s.HTTP, s.Endpoints.classic(documentID))
	if err != nil {
		return Result{}, err
	}
	var out Result
	doc.Find("div.table-wrap").Each(func(i int, wrap *goquery.Selection) {
		tid := strings.TrimSpace(wrap.AttrOr("id", ""))
		if tid == "" {
			tid = fmt.Sprintf("T%d", i+1)
		}
		if tbl := wrap.Find("table").First(); tbl.Length() > 0 {
			header, rows := htmlTable(tbl)
			rec := Record{DocumentID: documentID, TableID: tid, Header: header, Rows: rows, Source: s.Name()}
			if !rec.Empty() {
				out.Tables = append(out.Tables, rec)
			}
			return
		}
		if src := strings.TrimSpace(wrap.Find("img[src]").First().AttrOr("src", "")); src != "" {
			out.Images = append(out.Images, Image{DocumentID: documentID, TableID: tid, URL: s.Endpoints.resolve(src), Source: s.Name()})
		}
	})
	return out, nil
}
