// Package query turns indexed abstracts into per-sentence question/answer
// rows, regenerating only papers whose abstract changed.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/index"
	"github.com/hyperifyio/helmet/internal/llm"
	"github.com/hyperifyio/helmet/internal/merge"
	"github.com/hyperifyio/helmet/internal/retry"
)

// Schema is the column order of query_db.csv.
var Schema = []string{"pmcid", "first_author", "title", "year", "type", "sentence", "question", "answer", "abstract_hash"}

// ErrorText fills question and answer when generation fails for a sentence.
const ErrorText = "Error"

// MinSentenceLen is the exclusive lower bound, in characters, for a sentence
// to be worth a question.
const MinSentenceLen = 10

// Completer is the model capability the generator needs.
type Completer interface {
	CompleteChecked(ctx context.Context, system, user string, maxTokens int, check func(string) error) (string, error)
}

const systemPrompt = `You write evaluation questions for health-economic abstracts.
Given one sentence from an abstract, write one question that the sentence answers and the answer itself, using only information in the sentence.
Include the paper id in the question exactly as "(pmcid=ID)".
Examples:
Sentence: "This study evaluated the impact of the introduction of brodalumab on the pharmacy budget on US commercial health plans. pmcid=2298"
{"question": "What did the study evaluate (pmcid=2298)?", "answer": "The impact of introducing brodalumab on the pharmacy budget of US commercial health plans."}
Sentence: "Methods: A cross-indication budget impact model was designed to estimate the effects of adding secukinumab in the Italian market from the NHS perspective over 3 years. pmcid=3445"
{"question": "What was the perspective of the analysis (pmcid=3445)?", "answer": "The Italian NHS perspective."}
Answer with exactly one JSON object: {"question": "...", "answer": "..."}`

// Pair is one generated question and its answer.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Generator reads IndexPath and maintains QueryPath.
type Generator struct {
	Model     Completer
	Retry     retry.Policy
	IndexPath string
	QueryPath string
	// TypeFilter restricts processing to one article type when set.
	TypeFilter string
	MaxTokens  int
}

// Stats counts what one run did.
type Stats struct {
	Papers    int
	Sentences int
	Failed    int
	Report    merge.Report
}

// Run processes every eligible paper of the index.
func (g *Generator) Run(ctx context.Context) (Stats, error) {
	var st Stats
	idx, err := merge.Load(g.IndexPath, index.Schema)
	if err != nil {
		return st, err
	}
	if idx.Len() == 0 {
		log.Info().Str("path", g.IndexPath).Msg("index database empty or missing; nothing to do")
		return st, nil
	}
	qdb, err := merge.Load(g.QueryPath, Schema)
	if err != nil {
		return st, err
	}
	m := merge.Merger{Key: merge.Column("pmcid"), Policy: merge.KeepIfHashChanged}
	filter := strings.ToLower(strings.TrimSpace(g.TypeFilter))

	var batch []merge.Row
	for _, row := range idx.Rows {
		typ := strings.ToLower(strings.TrimSpace(row["type"]))
		if filter != "" && typ != filter {
			continue
		}
		id := strings.TrimSpace(row["pmcid"])
		hash := merge.ContentHash(row["abstract"])
		if id == "" || !m.Eligible(qdb, id, hash) {
			continue
		}
		st.Papers++
		for _, s := range SplitSentences(row["abstract"]) {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			st.Sentences++
			p, err := g.Generate(ctx, id, s)
			if err != nil {
				log.Warn().Str("pmcid", id).Err(err).Msg("question generation failed")
				st.Failed++
				p = Pair{Question: ErrorText, Answer: ErrorText}
			}
			batch = append(batch, merge.Row{
				"pmcid":         id,
				"first_author":  row["first_author"],
				"title":         row["title"],
				"year":          row["year"],
				"type":          typ,
				"sentence":      s,
				"question":      p.Question,
				"answer":        p.Answer,
				"abstract_hash": hash,
			})
		}
	}
	if len(batch) == 0 {
		log.Info().Msg("no new abstracts to process")
		return st, nil
	}
	st.Report = m.Merge(qdb, batch)
	if err := qdb.Save(); err != nil {
		return st, err
	}
	log.Info().Int("papers", st.Papers).Int("sentences", st.Sentences).Int("failed", st.Failed).
		Int("added", st.Report.Added).Int("updated", st.Report.Updated).Msg("query database updated")
	return st, nil
}

// Generate asks the model for one question/answer pair about sentence.
func (g *Generator) Generate(ctx context.Context, pmcid, sentence string) (Pair, error) {
	p := g.Retry
	if p.MaxAttempts == 0 {
		p = retry.Default
	}
	if p.Permanent == nil {
		p.Permanent = llm.IsAuth
	}
	p.Name = "query"
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	user := fmt.Sprintf("Sentence: %q", sentence+" pmcid="+pmcid)
	return retry.Do(ctx, p, Pair{}, func(ctx context.Context) (Pair, error) {
		var out Pair
		_, err := g.Model.CompleteChecked(ctx, systemPrompt, user, maxTokens, func(s string) error {
			return decodePair(s, &out)
		})
		return out, err
	})
}

func decodePair(raw string, out *Pair) error {
	if err := llm.DecodeJSON(raw, out); err != nil {
		return err
	}
	out.Question = strings.TrimSpace(out.Question)
	out.Answer = strings.TrimSpace(out.Answer)
	if out.Question == "" {
		return fmt.Errorf("%w: no question", llm.ErrMalformed)
	}
	return nil
}

// SplitSentences breaks text after a period followed by whitespace and at
// blank lines. Pieces of MinSentenceLen characters or fewer are dropped.
func SplitSentences(text string) []string {
	var out []string
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > MinSentenceLen {
			out = append(out, s)
		}
	}
	start := 0
	prev := rune(0)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case prev == '.' && unicode.IsSpace(r):
			emit(text[start:i])
			start = i + size
		case strings.HasPrefix(text[i:], "\n\n"):
			emit(text[start:i])
			size = 2
			start = i + size
			r = '\n'
		}
		prev = r
		i += size
	}
	emit(text[start:])
	return out
}

// errNoModel is returned when a Generator has no model configured.
var errNoModel = errors.New("query: model not configured")

// Validate reports configuration errors before any work is done.
func (g *Generator) Validate() error {
	if g.Model == nil {
		return errNoModel
	}
	return nil
}
