package models

// Entry is one searchable knowledge item derived from a period record.
type Entry struct {
	ID     string  `json:"id"`
	Chat   string  `json:"chat"`
	Period string  `json:"period"`
	Kind   string  `json:"kind"`
	Text   string  `json:"text"`
	Links  []int64 `json:"message_ids,omitempty"`
}

// SearchResult is a single search hit.
type SearchResult struct {
	Entry      *Entry            `json:"entry"`
	Score      float64           `json:"score"`
	Highlights map[string]string `json:"highlights,omitempty"`
	Rank       int               `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     uint64          `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
