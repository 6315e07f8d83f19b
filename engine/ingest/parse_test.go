package ingest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kbchat-ai/kbchat/engine/domain"
)

func TestParseFile_CSV(t *testing.T) {
	data := []byte("Category,Question,Answer\n" +
		"Visa,Do I need a visa?,Yes for non-EU interns\n" +
		"Housing,Is housing provided?,Shared apartments are available\n")

	entries, err := ParseFile("faq.csv", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []domain.Entry{
		{Category: "Visa", Question: "Do I need a visa?", Answer: "Yes for non-EU interns"},
		{Category: "Housing", Question: "Is housing provided?", Answer: "Shared apartments are available"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParseFile_CSVHeaderVariants(t *testing.T) {
	// Header matching is case-insensitive and order-independent; unknown
	// columns are ignored.
	data := []byte("id,ANSWER, question ,Category\n" +
		"7,the answer,the question,General\n")

	entries, err := ParseFile("faq.CSV", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	want := domain.Entry{Category: "General", Question: "the question", Answer: "the answer"}
	if entries[0] != want {
		t.Errorf("got %+v, want %+v", entries[0], want)
	}
}

func TestParseFile_CSVRaggedRows(t *testing.T) {
	// Short rows fill missing columns with empty strings, they are not
	// dropped.
	data := []byte("category,question,answer\nVisa,Only a question\n")

	entries, err := ParseFile("faq.csv", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Answer != "" {
		t.Errorf("missing cell should be empty, got %q", entries[0].Answer)
	}
}

func TestParseFile_EmptyCSV(t *testing.T) {
	entries, err := ParseFile("empty.csv", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestParseFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetList()[0]
	rows := [][]interface{}{
		{"Category", "Question", "Answer"},
		{"Visa", "Do I need a visa?", "Yes for non-EU interns"},
		{"Pay", "Is the internship paid?", "A monthly stipend is provided"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}

	entries, err := ParseFile("faq.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].Question != "Is the internship paid?" {
		t.Errorf("got %+v", entries[1])
	}
}

func TestParseFile_UnsupportedExtension(t *testing.T) {
	for _, name := range []string{"notes.txt", "faq.pdf", "data.json", "noext"} {
		_, err := ParseFile(name, []byte("whatever"))
		if !errors.Is(err, domain.ErrUnsupportedFileType) {
			t.Errorf("%s: got %v, want ErrUnsupportedFileType", name, err)
		}
	}
}
