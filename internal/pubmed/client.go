// Package pubmed is a small NCBI E-utilities client for the PMC database:
// search, document summaries, MEDLINE abstracts and full-text XML.
package pubmed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperifyio/helmet/internal/fetch"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultMaxResults caps a search when the caller passes zero.
	DefaultMaxResults = 10
)

// Getter is the HTTP capability the client needs.
type Getter interface {
	Get(ctx context.Context, rawURL string) (fetch.Response, error)
}

// Config holds the configuration for the client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// APIKey is the optional NCBI API key.
	APIKey string
	// MaxResults defaults to DefaultMaxResults.
	MaxResults int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Summary is the subset of an esummary record the pipeline keeps.
type Summary struct {
	PMCID       string
	FirstAuthor string
	Title       string
	Source      string
	Year        string
}

// ErrNoRecord means the service answered but had nothing for the id.
var ErrNoRecord = errors.New("pubmed: no record")

// Client talks to E-utilities through a Getter, which carries the retry,
// pacing and user-agent policy.
type Client struct {
	config Config
	http   Getter
}

// New creates a client.
func New(cfg Config, g Getter) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, http: g}
}

func (c *Client) endpoint(tool string, q url.Values) string {
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	return c.config.BaseURL + "/" + tool + "?" + q.Encode()
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search returns up to max PMC ids for query. Zero max uses the configured
// default.
func (c *Client) Search(ctx context.Context, query string, max int) ([]string, error) {
	if max <= 0 {
		max = c.config.MaxResults
	}
	q := url.Values{}
	q.Set("db", "pmc")
	q.Set("term", query)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(max))
	res, err := c.http.Get(ctx, c.endpoint("esearch.fcgi", q))
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	var out esearchResponse
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, fmt.Errorf("esearch: decode: %w", err)
	}
	return out.Result.IDList, nil
}

type esummaryDoc struct {
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Title   string `json:"title"`
	Source  string `json:"source"`
	PubDate string `json:"pubdate"`
}

// Summary fetches the document summary for a PMC id.
func (c *Client) Summary(ctx context.Context, id string) (Summary, error) {
	q := url.Values{}
	q.Set("db", "pmc")
	q.Set("id", id)
	q.Set("retmode", "json")
	res, err := c.http.Get(ctx, c.endpoint("esummary.fcgi", q))
	if err != nil {
		return Summary{}, fmt.Errorf("esummary %s: %w", id, err)
	}
	var env struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return Summary{}, fmt.Errorf("esummary %s: decode: %w", id, err)
	}
	raw, ok := env.Result[id]
	if !ok {
		return Summary{}, fmt.Errorf("esummary %s: %w", id, ErrNoRecord)
	}
	var doc esummaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Summary{}, fmt.Errorf("esummary %s: decode record: %w", id, err)
	}
	s := Summary{PMCID: id, Title: doc.Title, Source: doc.Source}
	if len(doc.Authors) > 0 {
		s.FirstAuthor = doc.Authors[0].Name
	}
	if f := strings.Fields(doc.PubDate); len(f) > 0 {
		s.Year = f[0]
	}
	return s, nil
}

// Abstract returns the abstract from the MEDLINE rendering, "" when the
// record has none.
func (c *Client) Abstract(ctx context.Context, id string) (string, error) {
	q := url.Values{}
	q.Set("db", "pmc")
	q.Set("id", id)
	q.Set("rettype", "medline")
	q.Set("retmode", "text")
	res, err := c.http.Get(ctx, c.endpoint("efetch.fcgi", q))
	if err != nil {
		return "", fmt.Errorf("efetch medline %s: %w", id, err)
	}
	return ParseMedlineAbstract(string(res.Body)), nil
}

// ParseMedlineAbstract extracts the AB field: the "AB  -" line plus the
// continuation lines indented by spaces that follow it.
func ParseMedlineAbstract(medline string) string {
	var parts []string
	in := false
	sc := bufio.NewScanner(strings.NewReader(medline))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "AB  -"):
			in = true
			parts = append(parts, strings.TrimSpace(strings.TrimPrefix(line, "AB  -")))
		case in && strings.HasPrefix(line, "  "):
			parts = append(parts, strings.TrimSpace(line))
		default:
			in = false
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// FullText returns the full-text XML, "" when the service sends nothing.
func (c *Client) FullText(ctx context.Context, id string) (string, error) {
	q := url.Values{}
	q.Set("db", "pmc")
	q.Set("id", id)
	q.Set("rettype", "full")
	q.Set("retmode", "xml")
	res, err := c.http.Get(ctx, c.endpoint("efetch.fcgi", q))
	if err != nil {
		return "", fmt.Errorf("efetch full %s: %w", id, err)
	}
	return strings.TrimSpace(string(res.Body)), nil
}
