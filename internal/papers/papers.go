// Package papers harvests article metadata and full text for the search
// queries listed in an instruction file.
package papers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/article"
	"github.com/hyperifyio/helmet/internal/fsutil"
	"github.com/hyperifyio/helmet/internal/jats"
	"github.com/hyperifyio/helmet/internal/pubmed"
)

// Source is the literature-search capability; *pubmed.Client provides it.
type Source interface {
	Search(ctx context.Context, query string, max int) ([]string, error)
	Summary(ctx context.Context, id string) (pubmed.Summary, error)
	Abstract(ctx context.Context, id string) (string, error)
	FullText(ctx context.Context, id string) (string, error)
}

// Sub-directories of the storage directory that hold full-text XML.
const (
	RedactedDir = "redacted_single_paper"
	SLRDir      = "slr_paper"
)

// Harvester writes {StorageDir}/{id}.json and the matching full text.
type Harvester struct {
	Source     Source
	StorageDir string
	MaxResults int
}

// Stats counts what one run did.
type Stats struct {
	Found    int
	Saved    int
	Retyped  int
	Skipped  int
	FullText int
	Failed   int
}

// ReadQuery returns the search query held in path. Blank lines and lines
// starting with "#" are dropped and the rest is joined with single spaces, so
// a long boolean expression may span several lines.
func ReadQuery(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var parts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts = append(parts, line)
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// Run harvests the query of the instruction file. The article type is the
// file name without extension.
func (h *Harvester) Run(ctx context.Context, instructionsPath string) (Stats, error) {
	var st Stats
	q, err := ReadQuery(instructionsPath)
	if err != nil {
		return st, fmt.Errorf("read instructions: %w", err)
	}
	if q == "" {
		return st, fmt.Errorf("read instructions: %s holds no query", instructionsPath)
	}
	typ := strings.ToLower(fsutil.Stem(instructionsPath))
	if err := fsutil.EnsureDir(h.StorageDir); err != nil {
		return st, err
	}
	ids, err := h.Source.Search(ctx, q, h.MaxResults)
	if err != nil {
		return st, fmt.Errorf("search: %w", err)
	}
	log.Info().Str("query", q).Int("ids", len(ids)).Msg("search")
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Found++
		h.harvest(ctx, id, typ, &st)
	}
	log.Info().Str("type", typ).Int("saved", st.Saved).Int("retyped", st.Retyped).Int("skipped", st.Skipped).Int("full_text", st.FullText).Int("failed", st.Failed).Msg("papers done")
	return st, nil
}

func (h *Harvester) harvest(ctx context.Context, id, typ string, st *Stats) {
	jsonPath := article.Path(h.StorageDir, id)
	if !h.storeMetadata(ctx, jsonPath, id, typ, st) {
		return
	}

	xmlPath := FullTextPath(h.StorageDir, id, typ)
	if xmlPath == "" || fsutil.Exists(xmlPath) {
		return
	}
	text, err := h.Source.FullText(ctx, id)
	if err != nil {
		log.Warn().Str("pmcid", id).Err(err).Msg("full text failed")
		return
	}
	if text == "" {
		log.Debug().Str("pmcid", id).Msg("no full text")
		return
	}
	if article.IsPrimary(typ) {
		text, err = Redact(text)
		if err != nil {
			log.Warn().Str("pmcid", id).Err(err).Msg("full text not parseable; not saved")
			return
		}
	}
	if err := fsutil.EnsureDir(filepath.Dir(xmlPath)); err != nil {
		log.Error().Err(err).Msg("create full text dir")
		return
	}
	if err := fsutil.WriteFileAtomic(xmlPath, []byte(text), 0o644); err != nil {
		log.Error().Str("pmcid", id).Err(err).Msg("save full text")
		return
	}
	st.FullText++
}

// storeMetadata makes {id}.json carry typ. A stored record of the same type is
// left alone; one of another type is rewritten with typ without refetching.
func (h *Harvester) storeMetadata(ctx context.Context, jsonPath, id, typ string, st *Stats) bool {
	if fsutil.Exists(jsonPath) {
		a, err := article.Load(jsonPath)
		if err == nil && a.Type == typ {
			st.Skipped++
			return true
		}
		if err == nil {
			log.Info().Str("pmcid", id).Str("from", a.Type).Str("to", typ).Msg("article type changed")
			a.Type = typ
			if err := article.Save(jsonPath, a); err != nil {
				log.Error().Str("pmcid", id).Err(err).Msg("save metadata")
				st.Failed++
				return false
			}
			st.Retyped++
			return true
		}
		log.Warn().Str("pmcid", id).Err(err).Msg("stored metadata unreadable; refetching")
	}
	a, err := h.metadata(ctx, id, typ)
	if err != nil {
		log.Warn().Str("pmcid", id).Err(err).Msg("metadata failed")
		st.Failed++
		return false
	}
	if err := article.Save(jsonPath, a); err != nil {
		log.Error().Str("pmcid", id).Err(err).Msg("save metadata")
		st.Failed++
		return false
	}
	st.Saved++
	return true
}

func (h *Harvester) metadata(ctx context.Context, id, typ string) (article.Article, error) {
	sum, err := h.Source.Summary(ctx, id)
	if err != nil {
		return article.Article{}, fmt.Errorf("summary: %w", err)
	}
	abs, err := h.Source.Abstract(ctx, id)
	if err != nil {
		log.Debug().Str("pmcid", id).Err(err).Msg("no abstract")
		abs = ""
	}
	pmcid := sum.PMCID
	if pmcid == "" {
		pmcid = id
	}
	return article.Article{
		PMCID:       pmcid,
		FirstAuthor: sum.FirstAuthor,
		Title:       sum.Title,
		Source:      sum.Source,
		Year:        sum.Year,
		Abstract:    abs,
		Type:        typ,
	}, nil
}

// FullTextPath is where the full text of id is stored for its type, or ""
// when the type keeps no full text.
func FullTextPath(storageDir, id, typ string) string {
	name := id + "_full_text.xml"
	switch {
	case article.IsPrimary(typ):
		return filepath.Join(storageDir, RedactedDir, name)
	case article.IsSLR(typ):
		return filepath.Join(storageDir, SLRDir, name)
	}
	return ""
}

// Redact removes every <abstract> element from a JATS document.
func Redact(xmlText string) (string, error) {
	doc, err := jats.ParseString(xmlText)
	if err != nil {
		return "", err
	}
	doc.RemoveAll("abstract")
	return doc.String(), nil
}
