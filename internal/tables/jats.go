package tables

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/hyperifyio/helmet/internal/jats"
)

// ErrNoArticleXML means neither efetch nor the id converter produced JATS.
var ErrNoArticleXML = errors.New("no article xml")

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// JATSStrategy reads table-wrap elements from the article's structured XML.
type JATSStrategy struct {
	HTTP      Getter
	Endpoints Endpoints
}

func (s *JATSStrategy) Name() string { return "jats" }

func (s *JATSStrategy) Extract(ctx context.Context, documentID string) (Result, error) {
	body, err := s.articleXML(ctx, documentID)
	if err != nil {
		return Result{}, err
	}
	doc, err := jats.Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	var out Result
	for i, wrap := range doc.FindAll("table-wrap") {
		tbl := wrap.Find("table")
		if tbl == nil {
			continue
		}
		rec := Record{
			DocumentID: documentID,
			TableID:    tableID(wrap.Child("label").Text(), i),
			Source:     s.Name(),
		}
		for _, head := range tbl.FindAll("thead") {
			for _, th := range head.FindAll("th") {
				rec.Header = append(rec.Header, normalizeCell(th.Text()))
			}
		}
		rows := bodyRows(tbl)
		for _, tr := range rows {
			var row []string
			for _, td := range tr.ChildrenNamed("td") {
				row = append(row, normalizeCell(td.Text()))
			}
			if len(row) > 0 {
				rec.Rows = append(rec.Rows, row)
			}
		}
		if !rec.Empty() {
			out.Tables = append(out.Tables, rec)
		}
	}
	return out, nil
}

// bodyRows returns the rows inside tbody elements, or every row of the table
// when the markup has no tbody.
func bodyRows(tbl *jats.Node) []*jats.Node {
	bodies := tbl.FindAll("tbody")
	if len(bodies) == 0 {
		return tbl.FindAll("tr")
	}
	var rows []*jats.Node
	for _, b := range bodies {
		rows = append(rows, b.FindAll("tr")...)
	}
	return rows
}

// articleXML tries efetch first, then the id converter's link with
// output=xml. Only bodies containing an <article element count.
func (s *JATSStrategy) articleXML(ctx context.Context, documentID string) ([]byte, error) {
	res, err := s.HTTP.Get(ctx, s.Endpoints.efetch(documentID))
	if err == nil && bytes.Contains(res.Body, []byte("<article")) {
		return res.Body, nil
	}
	conv, cerr := s.HTTP.Get(ctx, s.Endpoints.idconv(documentID))
	if cerr != nil {
		return nil, fmt.Errorf("idconv: %w", cerr)
	}
	m := hrefPattern.FindSubmatch(conv.Body)
	if m == nil {
		return nil, ErrNoArticleXML
	}
	res, err = s.HTTP.Get(ctx, s.Endpoints.resolve(string(m[1]))+"?output=xml")
	if err != nil {
		return nil, fmt.Errorf("idconv xml: %w", err)
	}
	if !bytes.Contains(res.Body, []byte("<article")) {
		return nil, ErrNoArticleXML
	}
	return res.Body, nil
}
