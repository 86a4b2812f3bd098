package sheet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"cardscan/models"
)

func TestWriteRecordsLayout(t *testing.T) {
	records := []models.Record{
		{Position: 0, FirstName: "Ahmet", LastName: "Yılmaz"},
		{Position: 1, FirstName: "Zeynep", LastName: ""},
	}
	var buf bytes.Buffer
	if err := WriteRecords(&buf, records); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); len(got) != 1 || got[0] != SheetName {
		t.Fatalf("unexpected sheets %v", got)
	}
	want := map[string]string{"A1": "Ad", "B1": "Soyad", "A2": "Ahmet", "B2": "Yılmaz", "A3": "Zeynep", "B3": "", "A4": ""}
	for cell, v := range want {
		got, err := f.GetCellValue(SheetName, cell)
		if err != nil {
			t.Fatalf("cell %s: %v", cell, err)
		}
		if got != v {
			t.Fatalf("cell %s = %q want %q", cell, got, v)
		}
	}
}

func TestReadRecordsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []models.Record{{FirstName: "Can", LastName: "Demir"}, {}, {FirstName: "Şule", LastName: "Işık"}}
	if err := WriteRecords(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadRecords(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 rows got %+v", out)
	}
	if out[1].FirstName != "" || out[1].LastName != "" || out[1].Position != 1 {
		t.Fatalf("empty middle row not kept: %+v", out[1])
	}
	if out[2].FirstName != "Şule" || out[2].LastName != "Işık" || out[2].Position != 2 {
		t.Fatalf("unexpected records %+v", out)
	}
}

func TestWriteRecordsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRecords(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadRecords(&buf)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected header-only workbook got %+v err=%v", out, err)
	}
}

func TestReadRecordsRejectsForeignSheet(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue(SheetName, "A1", "Name")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadRecords(&buf); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader got %v", err)
	}
}

func TestReadRecordsDropsTrailingEmptyRows(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRecords(&buf, []models.Record{{FirstName: "Can"}, {}, {}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadRecords(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 1 || out[0].FirstName != "Can" {
		t.Fatalf("unexpected records %+v", out)
	}
}
