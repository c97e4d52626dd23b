// Package label builds section-classification examples from redacted full
// texts: given a paragraph, pick the section it came from.
package label

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/fsutil"
	"github.com/hyperifyio/helmet/internal/jats"
	"github.com/hyperifyio/helmet/internal/merge"
)

// Schema is the column order of label.csv.
var Schema = []string{"pubmed_id", "section_choices", "question", "answer"}

const (
	// MinTitles is the fewest usable section titles a paper needs.
	MinTitles = 5
	// WrongChoices is how many distractor titles accompany the answer.
	WrongChoices = 4
	// DefaultPerPaper is how many paragraphs are sampled per paper.
	DefaultPerPaper = 2

	suffix = "_full_text.xml"
)

// Paragraph is a body paragraph and the section title in force above it.
type Paragraph struct {
	Text    string
	Section string
}

// Extract returns the section titles in document order and every paragraph
// that follows a title.
func Extract(doc *jats.Node) (titles []string, paras []Paragraph) {
	current := ""
	doc.Walk(func(n *jats.Node) bool {
		switch {
		case n.Is("title"):
			if t := strings.TrimSpace(n.Text()); t != "" {
				current = t
				titles = append(titles, t)
			}
			return false
		case n.Is("p"):
			if t := strings.Join(strings.Fields(n.Text()), " "); t != "" && current != "" {
				paras = append(paras, Paragraph{Text: t, Section: current})
			}
			return false
		}
		return true
	})
	return titles, paras
}

// UsableTitles drops supplementary and reference titles and repeats.
func UsableTitles(titles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range titles {
		l := strings.ToLower(t)
		if strings.Contains(l, "supplementary") || strings.Contains(l, "reference") || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Labeler samples paragraphs and renders multiple-choice rows.
type Labeler struct {
	PerPaper int
	rng      *rand.Rand
}

// New returns a Labeler whose sampling is fixed by seed.
func New(perPaper int, seed uint64) *Labeler {
	if perPaper <= 0 {
		perPaper = DefaultPerPaper
	}
	return &Labeler{PerPaper: perPaper, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Rows builds the rows for one paper. Paragraphs under a dropped title are
// not sampled. Papers with too few titles or paragraphs yield none.
func (l *Labeler) Rows(pubmedID string, titles []string, paras []Paragraph) []merge.Row {
	titles = UsableTitles(titles)
	usable := map[string]bool{}
	for _, t := range titles {
		usable[t] = true
	}
	var picked []Paragraph
	for _, p := range paras {
		if usable[p.Section] {
			picked = append(picked, p)
		}
	}
	if len(titles) < MinTitles || len(picked) < l.PerPaper {
		return nil
	}
	l.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	picked = picked[:l.PerPaper]

	var rows []merge.Row
	for _, p := range picked {
		var wrong []string
		for _, t := range titles {
			if t != p.Section {
				wrong = append(wrong, t)
			}
		}
		if len(wrong) < WrongChoices {
			continue
		}
		l.rng.Shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })
		choices := append(wrong[:WrongChoices:WrongChoices], p.Section)
		l.rng.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })
		rows = append(rows, merge.Row{
			"pubmed_id":       pubmedID,
			"section_choices": strings.Join(choices, "; "),
			"question":        Question(p.Text),
			"answer":          p.Section,
		})
	}
	return rows
}

// Question is the prompt for one paragraph. The text is quoted verbatim.
func Question(text string) string {
	return `Which section does this sentence belong to: "` + text + `"`
}

// Build reads every *_full_text.xml in dir and writes the rows to outPath,
// replacing it. It returns the number of rows written.
func (l *Labeler) Build(dir, outPath string) (int, error) {
	files, err := fsutil.ListFiles(dir, suffix)
	if err != nil {
		return 0, err
	}
	store := &merge.Store{Path: outPath, Schema: Schema}
	for _, p := range files {
		id, _, _ := strings.Cut(filepath.Base(p), "_")
		f, err := os.Open(p)
		if err != nil {
			log.Warn().Str("file", p).Err(err).Msg("unreadable full text")
			continue
		}
		doc, err := jats.Parse(f)
		f.Close()
		if err != nil {
			log.Warn().Str("file", p).Err(err).Msg("malformed full text")
			continue
		}
		titles, paras := Extract(doc)
		rows := l.Rows(id, titles, paras)
		if len(rows) == 0 {
			log.Debug().Str("pmcid", id).Int("titles", len(titles)).Int("paragraphs", len(paras)).Msg("not enough structure to label")
		}
		store.Rows = append(store.Rows, rows...)
	}
	if err := store.Save(); err != nil {
		return 0, err
	}
	log.Info().Int("rows", store.Len()).Str("path", outPath).Msg("label database written")
	return store.Len(), nil
}
