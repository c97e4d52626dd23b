package tables

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Chain tries strategies in order and stops at the first one that yields a
// structured table. Image sidecars from every strategy it tried are kept.
type Chain struct {
	Strategies []Strategy
}

// NewChain builds the standard order: JATS XML, inline HTML, linked table
// pages, open-access TSV files, then blind probing.
func NewChain(g Getter, ep Endpoints) *Chain {
	return &Chain{Strategies: []Strategy{
		&JATSStrategy{HTTP: g, Endpoints: ep},
		&InlineStrategy{HTTP: g, Endpoints: ep},
		&LinkedStrategy{HTTP: g, Endpoints: ep},
		&OATSVStrategy{HTTP: g, Endpoints: ep},
		&ProbeStrategy{HTTP: g, Endpoints: ep},
	}}
}

// Run returns what the chain found and the name of the strategy that supplied
// the tables ("" when none did). A strategy error counts as finding nothing.
func (c *Chain) Run(ctx context.Context, documentID string) (Result, string) {
	var out Result
	seenImage := map[string]bool{}
	for _, s := range c.Strategies {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Extract(ctx, documentID)
		if err != nil {
			log.Debug().Str("pmcid", documentID).Str("strategy", s.Name()).Err(err).Msg("strategy found nothing")
			continue
		}
		for _, img := range res.Images {
			if seenImage[img.TableID] {
				continue
			}
			seenImage[img.TableID] = true
			out.Images = append(out.Images, img)
		}
		if len(res.Tables) > 0 {
			out.Tables = res.Tables
			return out, s.Name()
		}
	}
	return out, ""
}
