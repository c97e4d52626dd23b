package tables

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/fetch"
)

// DefaultProbeLimit is how many T{n} pages ProbeStrategy tries.
const DefaultProbeLimit = 30

// ProbeStrategy guesses object-only pages T1, T2, ... until a 404.
type ProbeStrategy struct {
	HTTP      Getter
	Endpoints Endpoints
	// Limit defaults to DefaultProbeLimit.
	Limit int
}

func (s *ProbeStrategy) Name() string { return "probe" }

func (s *ProbeStrategy) Extract(ctx context.Context, documentID string) (Result, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultProbeLimit
	}
	var out Result
	for n := 1; n <= limit; n++ {
		doc, err := getDocument(ctx, s.HTTP, s.Endpoints.probe(documentID, n))
		if err != nil {
			if fetch.IsNotFound(err) {
				break
			}
			var se *fetch.StatusError
			if errors.As(err, &se) {
				continue
			}
			// transport failure: keep what was found so far
			log.Warn().Str("pmcid", documentID).Int("n", n).Err(err).Msg("probe stopped")
			break
		}
		out.add(pageResult(doc, s.Endpoints, documentID, fmt.Sprintf("T%d", n), s.Name()))
	}
	return out, nil
}
