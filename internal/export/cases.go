// Package export writes reported cases to a spreadsheet for offline analysis.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/storage"
)

const (
	casesSheet = "Cases"
	yearsSheet = "Years"
)

// ChatCases pairs a chat with its store.
type ChatCases struct {
	Chat  models.Chat
	Store *storage.ChatStore
}

// WriteCases writes one row per case of every chat, plus a per-year summary
// sheet, as an .xlsx workbook to w. It returns the number of cases written.
func WriteCases(ctx context.Context, w io.Writer, chats []ChatCases) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", casesSheet); err != nil {
		return 0, err
	}
	if _, err := f.NewSheet(yearsSheet); err != nil {
		return 0, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, err
	}
	header := []interface{}{"Chat", "Period", "Outcome", "Consulate", "Summary", "Messages"}
	if err := f.SetSheetRow(casesSheet, "A1", &header); err != nil {
		return 0, err
	}
	if err := f.SetCellStyle(casesSheet, "A1", "F1", bold); err != nil {
		return 0, err
	}

	type yearKey struct {
		chat string
		year int
	}
	years := make(map[yearKey][2]int)
	row := 2
	for _, cc := range chats {
		ps, err := cc.Store.Cases.ListPeriods(ctx)
		if err != nil {
			return 0, err
		}
		for _, p := range ps {
			rec, err := cc.Store.Cases.Get(ctx, p)
			if err != nil {
				return 0, err
			}
			for _, c := range rec.Payload {
				outcome := "rejected"
				if c.IsApproved {
					outcome = "approved"
				}
				var links []string
				for _, l := range c.Summary.Links(cc.Chat) {
					links = append(links, l.URL())
				}
				values := []interface{}{cc.Chat.Slug, p.String(), outcome, c.ConsulateCity, c.Summary.Text, strings.Join(links, "\n")}
				cell, err := excelize.CoordinatesToCellName(1, row)
				if err != nil {
					return 0, err
				}
				if err := f.SetSheetRow(casesSheet, cell, &values); err != nil {
					return 0, err
				}
				if len(links) > 0 {
					linkCell, _ := excelize.CoordinatesToCellName(6, row)
					if err := f.SetCellHyperLink(casesSheet, linkCell, links[0], "External"); err != nil {
						return 0, err
					}
				}
				k := yearKey{cc.Chat.Slug, p.Year}
				counts := years[k]
				if c.IsApproved {
					counts[0]++
				} else {
					counts[1]++
				}
				years[k] = counts
				row++
			}
		}
	}

	yh := []interface{}{"Chat", "Year", "Approved", "Rejected"}
	if err := f.SetSheetRow(yearsSheet, "A1", &yh); err != nil {
		return 0, err
	}
	if err := f.SetCellStyle(yearsSheet, "A1", "D1", bold); err != nil {
		return 0, err
	}
	keys := make([]yearKey, 0, len(years))
	for k := range years {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].chat != keys[j].chat {
			return keys[i].chat < keys[j].chat
		}
		return keys[i].year > keys[j].year
	})
	for i, k := range keys {
		counts := years[k]
		values := []interface{}{k.chat, k.year, counts[0], counts[1]}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(yearsSheet, cell, &values); err != nil {
			return 0, err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return row - 2, nil
}
