package tables

import (
	"context"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// OATSVStrategy asks the PMC open-access utility for tab-separated table
// files and converts them to records.
type OATSVStrategy struct {
	HTTP      Getter
	Endpoints Endpoints
}

func (s *OATSVStrategy) Name() string { return "oa-tsv" }

func (s *OATSVStrategy) Extract(ctx context.Context, documentID string) (Result, error) {
	doc, err := getDocument(ctx, s.HTTP, s.Endpoints.oa(documentID))
	if err != nil {
		return Result{}, err
	}
	var out Result
	doc.Find("file[format='tsv']").Each(func(_ int, f *goquery.Selection) {
		href := strings.TrimSpace(f.AttrOr("href", ""))
		if href == "" {
			return
		}
		res, err := s.HTTP.Get(ctx, s.Endpoints.resolve(href))
		if err != nil {
			log.Debug().Str("pmcid", documentID).Str("url", href).Err(err).Msg("oa tsv download failed")
			return
		}
		base := path.Base(href)
		rec := parseTSV(string(res.Body))
		rec.DocumentID = documentID
		rec.TableID = strings.TrimSuffix(base, path.Ext(base))
		rec.Source = s.Name()
		if !rec.Empty() {
			out.Tables = append(out.Tables, rec)
		}
	})
	return out, nil
}

// parseTSV reads the first line as the header and the rest as rows.
func parseTSV(text string) Record {
	var rec Record
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "\t")
		for i := range cells {
			cells[i] = normalizeCell(cells[i])
		}
		if first {
			rec.Header = cells
			first = false
			continue
		}
		rec.Rows = append(rec.Rows, cells)
	}
	return rec
}
