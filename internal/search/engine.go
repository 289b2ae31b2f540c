package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/chatdigest/internal/models"
)

// fuzziness is the Levenshtein distance allowed per term in fuzzy queries.
const fuzziness = 2

// Search runs query against the index and returns one page of hits.
func (i *Index) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	conj := []blevequery.Query{textQuery(query.Query, query.Fuzzy)}
	if query.Chat != "" {
		cq := bleve.NewTermQuery(query.Chat)
		cq.SetField("chat")
		conj = append(conj, cq)
	}
	if len(query.Kinds) > 0 {
		kinds := make([]blevequery.Query, 0, len(query.Kinds))
		for _, k := range query.Kinds {
			kq := bleve.NewTermQuery(k)
			kq.SetField("kind")
			kinds = append(kinds, kq)
		}
		conj = append(conj, bleve.NewDisjunctionQuery(kinds...))
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conj...), query.Limit, query.Offset, false)
	req.Fields = []string{"*"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("text")
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	resp := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(res.Hits)),
		Total:   res.Total,
		Query:   query.Query,
	}
	for n, hit := range res.Hits {
		r := &models.SearchResult{
			Entry: fromFields(hit.ID, hit.Fields),
			Score: hit.Score,
			Rank:  query.Offset + n + 1,
		}
		if frags := hit.Fragments["text"]; len(frags) > 0 {
			r.Highlights = map[string]string{"text": strings.Join(frags, " ... ")}
		}
		resp.Results = append(resp.Results, r)
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// textQuery matches query against entry text. In fuzzy mode every term may be
// misspelled by up to fuzziness edits and any term may match.
func textQuery(query string, fuzzy bool) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		return mq
	}
	qs := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		qs = append(qs, fq)
	}
	if len(qs) == 1 {
		return qs[0]
	}
	return bleve.NewDisjunctionQuery(qs...)
}
