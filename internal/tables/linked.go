package tables

import (
	"context"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// LinkedStrategy follows the per-table links of the classic view and reads
// each object-only page.
type LinkedStrategy struct {
	HTTP      Getter
	Endpoints Endpoints
}

func (s *LinkedStrategy) Name() string { return "linked" }

func (s *LinkedStrategy) Extract(ctx context.Context, documentID string) (Result, error) {
	doc, err := getDocument(ctx, s.HTTP, s.Endpoints.classic(documentID))
	if err != nil {
		return Result{}, err
	}
	var out Result
	for _, link := range tableLinks(doc, s.Endpoints) {
		page, err := getDocument(ctx, s.HTTP, objectOnly(link))
		if err != nil {
			log.Debug().Str("pmcid", documentID).Str("url", link).Err(err).Msg("linked table page failed")
			continue
		}
		out.add(pageResult(page, s.Endpoints, documentID, lastSegment(link), s.Name()))
	}
	return out, nil
}

// tableLinks returns the distinct absolute /pmc/.../table/... links, sorted.
func tableLinks(doc *goquery.Document, ep Endpoints) []string {
	seen := map[string]bool{}
	doc.Find("a[href*='/table/']").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if strings.HasPrefix(href, "/pmc/") {
			seen[ep.resolve(href)] = true
		}
	})
	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	return links
}

func objectOnly(link string) string {
	if strings.HasSuffix(link, "?report=objectonly") {
		return link
	}
	return link + "?report=objectonly"
}
