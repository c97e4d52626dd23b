// Package tableqa asks a model one question per column of each kept review
// table and records the answers in the table Q&A database.
package tableqa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/fsutil"
	"github.com/hyperifyio/helmet/internal/llm"
	"github.com/hyperifyio/helmet/internal/merge"
	"github.com/hyperifyio/helmet/internal/retry"
)

// Schema is the column order of slr_db.csv.
var Schema = []string{"slr_tbl", "document", "question", "answer"}

// AuthorQuestion marks the question whose answer names the table's documents.
const AuthorQuestion = "who are the authors"

// DefaultMaxChars bounds the table text sent with each question.
const DefaultMaxChars = 4000

// Completer is the model capability the stage needs; *llm.Chat provides it.
type Completer interface {
	CompleteChecked(ctx context.Context, system, user string, maxTokens int, check func(string) error) (string, error)
}

// ErrNotObject means the model answered with something other than a JSON
// object. It is not retried.
var ErrNotObject = errors.New("tableqa: answer is not a JSON object")

const questionSystem = "You are an assistant that writes natural-language questions for dataset headers."

const questionPrompt = `Below are the column headers of a table from a systematic review of health-economic studies.
Write one clear natural-language question per header that the column answers.
Each row is a study, so phrase questions in the plural: "these studies", "do", "are", "authors"; never "the study", "does" or "is".
For an author column ask "Who are the authors of these studies?".

HEADERS:
%s

Answer with a JSON list only, for example:
[{"column": "Perspective", "question": "What perspectives are used in these studies?"},
 {"column": "Country", "question": "Which countries are covered in these studies?"}]`

const answerSystem = "You are an assistant helping with health-economic SLR tables."

const answerPrompt = `TABLE:
%s

Answer the following question using the table above:
%q

Return exactly one JSON object in this format:
{"question": %q, "answer": [{"Author A": "answer for Author A"}, {"Author B": "answer for Author B"}]}
Use the author names from the table, usually its first column. No markdown and no explanation.`

// QA holds the two model roles. Questions is usually run warmer than Answers.
type QA struct {
	Questions Completer
	Answers   Completer
	Retry     retry.Policy
	MaxChars  int
}

func (q *QA) policy(name string) retry.Policy {
	p := q.Retry
	if p.MaxAttempts == 0 {
		p = retry.Default
	}
	p.Permanent = func(err error) bool {
		return llm.IsAuth(err) || errors.Is(err, ErrNotObject)
	}
	p.Name = name
	return p
}

// HeaderQuestions returns one question per header. Failure yields none.
func (q *QA) HeaderQuestions(ctx context.Context, headers []string) []string {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString("- " + h + "\n")
	}
	user := fmt.Sprintf(questionPrompt, strings.TrimRight(b.String(), "\n"))
	out, err := retry.Do(ctx, q.policy("header-questions"), []string(nil), func(ctx context.Context) ([]string, error) {
		var qs []string
		_, err := q.Questions.CompleteChecked(ctx, questionSystem, user, 800, func(s string) error {
			var items []struct {
				Column   string `json:"column"`
				Question string `json:"question"`
			}
			if err := llm.DecodeJSON(s, &items); err != nil {
				return err
			}
			qs = qs[:0]
			for _, it := range items {
				if t := strings.TrimSpace(it.Question); t != "" {
					qs = append(qs, t)
				}
			}
			return nil
		})
		return qs, err
	})
	if err != nil {
		log.Warn().Err(err).Msg("header question generation failed")
		return nil
	}
	return out
}

// Answer asks question about tableText and returns the flattened answer.
func (q *QA) Answer(ctx context.Context, tableText, question string) (string, error) {
	limit := q.MaxChars
	if limit <= 0 {
		limit = DefaultMaxChars
	}
	if len(tableText) > limit {
		for limit > 0 && !utf8.RuneStart(tableText[limit]) {
			limit--
		}
		tableText = tableText[:limit]
	}
	user := fmt.Sprintf(answerPrompt, tableText, question, question)
	return retry.Do(ctx, q.policy("table-answer"), "", func(ctx context.Context) (string, error) {
		var ans string
		_, err := q.Answers.CompleteChecked(ctx, answerSystem, user, 800, func(s string) error {
			a, err := ParseAnswer(s)
			ans = a
			return err
		})
		return ans, err
	})
}

// ParseAnswer extracts the "answer" of a model reply. Output cut off inside
// the answer array is salvaged when its complete objects parse.
func ParseAnswer(raw string) (string, error) {
	s := llm.StripFences(raw)
	if !strings.HasPrefix(s, "{") {
		return "", ErrNotObject
	}
	var v struct {
		Answer any `json:"answer"`
	}
	if err := llm.DecodeJSON(s, &v); err != nil {
		if items, ok := llm.RecoverAnswer(s); ok {
			return FlattenAnswer(toAny(items)), nil
		}
		return "", err
	}
	return FlattenAnswer(v.Answer), nil
}

func toAny(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, m := range items {
		out[i] = m
	}
	return out
}

// FlattenAnswer renders an answer value as text. A list of objects becomes
// "key: value" pairs joined by "; ", keys sorted within each object.
func FlattenAnswer(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	case []any:
		allObjects := true
		for _, it := range a {
			if _, ok := it.(map[string]any); !ok {
				allObjects = false
				break
			}
		}
		var parts []string
		for _, it := range a {
			if !allObjects {
				parts = append(parts, scalar(it))
				continue
			}
			m := it.(map[string]any)
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				parts = append(parts, k+": "+scalar(m[k]))
			}
		}
		return strings.Join(parts, "; ")
	}
	return scalar(v)
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Headers splits the first line of a table on "|", lower-cased and trimmed.
func Headers(tableText string) []string {
	first, _, _ := strings.Cut(tableText, "\n")
	var out []string
	for _, h := range strings.Split(first, "|") {
		out = append(out, strings.ToLower(strings.TrimSpace(h)))
	}
	return out
}

// Builder runs QA over a directory of kept tables and merges into DBPath.
type Builder struct {
	QA      *QA
	KeptDir string
	DBPath  string
}

// Stats counts what one run did.
type Stats struct {
	Tables  int
	Skipped int
	Failed  int
	Report  merge.Report
}

// Run answers every kept table not yet present in the database.
func (b *Builder) Run(ctx context.Context) (Stats, error) {
	var st Stats
	files, err := fsutil.ListFiles(b.KeptDir, ".txt")
	if err != nil {
		return st, err
	}
	db, err := merge.Load(b.DBPath, Schema)
	if err != nil {
		return st, err
	}
	done := db.Keys(merge.Column("slr_tbl"))
	var batch []merge.Row
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		name := fsutil.Stem(p)
		if done[name] {
			st.Skipped++
			continue
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			log.Warn().Str("file", p).Err(err).Msg("unreadable table")
			st.Failed++
			continue
		}
		text := strings.TrimRight(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
		if strings.Count(text, "\n") < 1 {
			log.Warn().Str("file", p).Msg("skipping empty or single-line table")
			st.Skipped++
			continue
		}
		rows := b.table(ctx, name, text)
		if len(rows) == 0 {
			st.Failed++
			continue
		}
		st.Tables++
		batch = append(batch, rows...)
	}
	if len(batch) == 0 {
		log.Info().Int("skipped", st.Skipped).Msg("no new tables answered")
		return st, nil
	}
	m := merge.Merger{Key: merge.Columns("slr_tbl", "question"), Policy: merge.KeepLast}
	st.Report = m.Merge(db, batch)
	if err := db.Save(); err != nil {
		return st, err
	}
	log.Info().Int("tables", st.Tables).Int("rows", len(batch)).Int("skipped", st.Skipped).Int("failed", st.Failed).Msg("table Q&A database updated")
	return st, nil
}

func (b *Builder) table(ctx context.Context, name, text string) []merge.Row {
	questions := b.QA.HeaderQuestions(ctx, Headers(text))
	if len(questions) == 0 {
		log.Warn().Str("table", name).Msg("no questions for table")
		return nil
	}
	var rows []merge.Row
	document := ""
	for _, q := range questions {
		a, err := b.QA.Answer(ctx, text, q)
		if err != nil {
			log.Warn().Str("table", name).Str("question", q).Err(err).Msg("answer failed")
			continue
		}
		if strings.Contains(strings.ToLower(q), AuthorQuestion) {
			document = a
		}
		rows = append(rows, merge.Row{"slr_tbl": name, "question": q, "answer": a})
	}
	for _, r := range rows {
		r["document"] = document
	}
	return rows
}
