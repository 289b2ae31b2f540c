package export

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
)

func TestWriteCases(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	chat := models.Chat{Slug: "visas", URL: "https://t.me/c/1/2"}
	store := storage.NewChatStore(backend, chat.Slug)
	if err := store.Cases.Put(ctx, period.MustNew(2023, 12), "f", []models.Case{
		{IsApproved: true, ConsulateCity: "Lisbon", Summary: models.Summary{Text: "Approved", MessageIDs: []int64{5}}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Cases.Put(ctx, period.MustNew(2024, 1), "f", []models.Case{
		{IsApproved: false, Summary: models.Summary{Text: "Refused"}},
		{IsApproved: true, Summary: models.Summary{Text: "Issued", MessageIDs: []int64{8, 9}}},
	}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := WriteCases(ctx, &buf, []ChatCases{{Chat: chat, Store: store}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("n = %d", n)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if got := f.GetSheetList(); !reflect.DeepEqual(got, []string{"Cases", "Years"}) {
		t.Errorf("sheets = %v", got)
	}
	rows, err := f.GetRows("Cases")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %v", rows)
	}
	if !reflect.DeepEqual(rows[1], []string{"visas", "2023-12", "approved", "Lisbon", "Approved", "https://t.me/c/1/2/5"}) {
		t.Errorf("row 2 = %v", rows[1])
	}
	if rows[3][5] != "https://t.me/c/1/2/8\nhttps://t.me/c/1/2/9" {
		t.Errorf("links = %q", rows[3][5])
	}
	years, err := f.GetRows("Years")
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"Chat", "Year", "Approved", "Rejected"},
		{"visas", "2024", "1", "1"},
		{"visas", "2023", "1", "0"},
	}
	if !reflect.DeepEqual(years, want) {
		t.Errorf("years = %v", years)
	}
}
