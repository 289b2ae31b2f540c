// Package cli provides output formatting for the chatdigest command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/pipeline"
	"github.com/hyperjump/chatdigest/internal/storage"
	"github.com/hyperjump/chatdigest/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s %s %s\n",
			result.Rank, result.Score, result.Entry.Chat, result.Entry.Period, result.Entry.Kind)
		fmt.Fprintf(w, "ID: %s\n", result.Entry.ID)
		text := result.Entry.Text
		if h, ok := result.Highlights["text"]; ok && h != "" {
			text = h
		}
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(text, 200))
		fmt.Fprintln(w)
	}
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// ChatStats pairs a chat slug with its store statistics.
type ChatStats struct {
	Chat  string
	Stats storage.Stats
}

// Status is the report of the status command.
type Status struct {
	Chats []ChatStats `json:"chats"`
	// DiskUsageBytes is nil when the footprint could not be measured.
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}

// WriteStatus writes per-chat record counts, one stage per column in dependency
// order, followed by the disk usage of stores and index.
func WriteStatus(w io.Writer, status Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	stages := storage.StageNames()[1:]
	fmt.Fprintf(w, "%-20s %8s %8s %8s", "chat", "periods", "messages", "last")
	for _, s := range stages {
		fmt.Fprintf(w, " %s", s)
	}
	fmt.Fprintln(w)
	for _, cs := range status.Chats {
		last := cs.Stats.LastPeriod
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%-20s %8d %8d %8s", cs.Chat, cs.Stats.Periods, cs.Stats.Messages, last)
		for _, s := range stages {
			fmt.Fprintf(w, " %*d", len(s), cs.Stats.StageRecords[s])
		}
		fmt.Fprintln(w)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "\ndisk_usage_bytes: %d   # stores + search index on disk\n", *status.DiskUsageBytes)
	}
	return nil
}

// WriteResults writes one line per stage run, prefixed by the chat slug.
func WriteResults(w io.Writer, chat string, results []pipeline.Result) {
	for _, r := range results {
		fmt.Fprintf(w, "%s %s\n", chat, r)
	}
}

// WriteApplied summarizes documentation diffs applied to files.
func WriteApplied(w io.Writer, applied []models.AppliedDiff) {
	if len(applied) == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, a := range applied {
		fmt.Fprintf(w, "%s: %d/%d hunks applied\n", a.Path, a.Applied, a.Hunks)
	}
}

// SplitList splits a comma-separated flag value, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
