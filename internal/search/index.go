// Package search indexes the derived knowledge of every chat with Bleve and answers
// keyword queries over it.
package search

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/chatdigest/internal/models"
)

// document is the indexed form of an entry.
type document struct {
	Chat   string `json:"chat"`
	Period string `json:"period"`
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Links  string `json:"links"`
}

// Index is a Bleve index of knowledge entries.
type Index struct {
	index bleve.Index
}

// OpenIndex opens the index at path, creating it when missing. If the mapping
// changes, remove the directory to rebuild.
func OpenIndex(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", err)
		}
		return &Index{index: idx}, nil
	}
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Index{index: idx}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so texts in any
	// language of the chat match word for word.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("text", text)

	for _, name := range []string{"chat", "period", "kind"} {
		doc.AddFieldMappingsAt(name, bleve.NewKeywordFieldMapping())
	}
	links := bleve.NewTextFieldMapping()
	links.Index = false
	doc.AddFieldMappingsAt("links", links)

	im.AddDocumentMapping("entry", doc)
	im.DefaultType = "entry"
	im.DefaultMapping = doc
	return im
}

// Replace swaps every indexed entry of chat for entries.
func (i *Index) Replace(ctx context.Context, chat string, entries []models.Entry) error {
	stale, err := i.chatIDs(chat)
	if err != nil {
		return err
	}
	batch := i.index.NewBatch()
	for _, id := range stale {
		batch.Delete(id)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(e.ID, toDocument(e)); err != nil {
			return fmt.Errorf("failed to index %s: %w", e.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to write batch for %s: %w", chat, err)
	}
	return nil
}

func (i *Index) chatIDs(chat string) ([]string, error) {
	q := bleve.NewTermQuery(chat)
	q.SetField("chat")
	var ids []string
	const page = 500
	for from := 0; ; from += page {
		req := bleve.NewSearchRequestOptions(q, page, from, false)
		res, err := i.index.Search(req)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of %s: %w", chat, err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < page {
			return ids, nil
		}
	}
}

// DocCount returns the number of indexed entries.
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

func toDocument(e models.Entry) document {
	links := make([]string, 0, len(e.Links))
	for _, id := range e.Links {
		links = append(links, strconv.FormatInt(id, 10))
	}
	return document{Chat: e.Chat, Period: e.Period, Kind: e.Kind, Text: e.Text, Links: strings.Join(links, ",")}
}

func fromFields(id string, fields map[string]interface{}) *models.Entry {
	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	e := &models.Entry{ID: id, Chat: str("chat"), Period: str("period"), Kind: str("kind"), Text: str("text")}
	for _, s := range strings.Split(str("links"), ",") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			e.Links = append(e.Links, n)
		}
	}
	return e
}
