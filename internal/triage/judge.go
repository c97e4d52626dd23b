// Package triage decides which harvested tables are worth question
// generation and sorts the table files into kept and discarded folders.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/hyperifyio/helmet/internal/llm"
	"github.com/hyperifyio/helmet/internal/retry"
)

// Judge decides whether a table is kept. Judges never fail: an undecidable
// table is not kept.
type Judge interface {
	Keep(ctx context.Context, tableText string) bool
}

var (
	// DefaultAuthorKeys mark a column that identifies the source study.
	DefaultAuthorKeys = []string{"author", "authors", "first author", "citation", "reference", "study"}
	// DefaultDateKeys mark a column that dates it.
	DefaultDateKeys = []string{"year", "date", "publication", "published"}
)

// HeuristicJudge keeps a table whose header row names both a study column
// and a date column. Matching is case-insensitive substring containment.
type HeuristicJudge struct {
	AuthorKeys []string
	DateKeys   []string
}

func (h HeuristicJudge) Keep(_ context.Context, tableText string) bool {
	header := headerCells(tableText)
	authors := h.AuthorKeys
	if authors == nil {
		authors = DefaultAuthorKeys
	}
	dates := h.DateKeys
	if dates == nil {
		dates = DefaultDateKeys
	}
	return anyContains(header, authors) && anyContains(header, dates)
}

var fold = cases.Fold()

func headerCells(text string) []string {
	first, _, _ := strings.Cut(text, "\n")
	parts := strings.Split(first, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		out = append(out, fold.String(strings.TrimSpace(p)))
	}
	return out
}

func anyContains(cells, keys []string) bool {
	for _, c := range cells {
		for _, k := range keys {
			if strings.Contains(c, fold.String(k)) {
				return true
			}
		}
	}
	return false
}

// Completer is the model capability ModelJudge needs; *llm.Chat provides it.
type Completer interface {
	CompleteChecked(ctx context.Context, system, user string, maxTokens int, check func(string) error) (string, error)
}

// DefaultMaxChars bounds the table text sent to the model.
const DefaultMaxChars = 4000

const judgeSystemPrompt = `You screen tables extracted from systematic reviews of health-economic evaluations (budget impact and cost-effectiveness models).
Keep a table only if it lists individual included studies with identifying details such as author, year, country, model type, perspective, time horizon, costs or outcomes.
Discard clinical-only tables (lab values, trial arms, outcomes), tables with a single data row, search strategies, quality checklists and abbreviation lists.
Answer with JSON only: {"keep": true} or {"keep": false}.`

// ModelJudge asks a language model. Any failure after the retry policy is
// exhausted yields "not kept".
type ModelJudge struct {
	Model    Completer
	Retry    retry.Policy
	MaxChars int
}

func (m ModelJudge) Keep(ctx context.Context, tableText string) bool {
	limit := m.MaxChars
	if limit <= 0 {
		limit = DefaultMaxChars
	}
	user := "Table:\n" + truncate(tableText, limit)
	p := m.Retry
	if p.MaxAttempts == 0 {
		p = retry.Default
	}
	if p.Permanent == nil {
		p.Permanent = llm.IsAuth
	}
	p.Name = "triage"
	keep, err := retry.Do(ctx, p, false, func(ctx context.Context) (bool, error) {
		var verdict bool
		_, err := m.Model.CompleteChecked(ctx, judgeSystemPrompt, user, 16, func(s string) error {
			v, perr := ParseVerdict(s)
			verdict = v
			return perr
		})
		return verdict, err
	})
	if err != nil {
		log.Warn().Err(err).Str("kind", string(llm.ClassifyError(err))).Msg("triage model failed; table not kept")
		return false
	}
	return keep
}

// ParseVerdict accepts {"keep": bool} (optionally fenced) or a bare yes/no.
func ParseVerdict(raw string) (bool, error) {
	s := llm.StripFences(raw)
	if strings.HasPrefix(s, "{") {
		var v struct {
			Keep *bool `json:"keep"`
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return false, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
		}
		if v.Keep == nil {
			return false, fmt.Errorf("%w: missing keep", llm.ErrMalformed)
		}
		return *v.Keep, nil
	}
	word := strings.ToLower(strings.Trim(firstWord(s), ".,!\"'`"))
	switch word {
	case "yes", "true", "keep":
		return true, nil
	case "no", "false", "discard":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", llm.ErrMalformed, truncate(s, 40))
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
