package ledger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"remitmatch/internal/config"
	"remitmatch/internal/storage"
)

func mkLedgerXLSX(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	buf := bytes.NewBuffer(nil)
	if _, err := f.WriteTo(buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImportXLSX(t *testing.T) {
	blob := mkLedgerXLSX(t, [][]any{
		{"Internal ID", "Invoice Number", "Name", "Amount", "Due Date", "Subsidiary"},
		{"501", "Invoice #INV-UOC-16210973", "Acme Corp", "$1,500.00", "2024-04-01", "US"},
		{"", "INV-2", "Beta", 20, "", ""},
		{"503", "", "No number", 5, "", ""},
	})
	invoices, err := ImportXLSX(blob)
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 2 {
		t.Fatalf("len=%d", len(invoices))
	}
	first := invoices[0]
	if first.InvoiceID != "501" || first.InvoiceNumber != "INV-UOC-16210973" || first.Amount != 1500 {
		t.Fatalf("first=%+v", first)
	}
	if first.Subsidiary == nil || *first.Subsidiary != "US" || first.DueDate == nil {
		t.Fatalf("first=%+v", first)
	}
	if invoices[1].InvoiceID != "INV-2" || invoices[1].Amount != 20 {
		t.Fatalf("second=%+v", invoices[1])
	}
}

func TestImportCSV(t *testing.T) {
	csv := "Document Number,Customer,Amount Remaining\nINV-10,Gamma LLC,\"1,000.00\"\nINV-11,Gamma LLC,500\n"
	invoices, err := ImportCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 2 || invoices[0].Amount != 1000 || invoices[1].CustomerName != "Gamma LLC" {
		t.Fatalf("invoices=%+v", invoices)
	}
}

func TestSyncServiceImportAndLocalSource(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	path := filepath.Join(tmp, "ledger.csv")
	if err := os.WriteFile(path, []byte("Invoice Number,Name,Amount\nINV-10,Gamma LLC,1000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _ := config.Load()
	cfg.LedgerAPIBaseURL = ""
	n, err := NewSyncService(db, cfg).Import(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
	if v, _ := db.GetMetadata("ledger.last_import"); v == nil {
		t.Fatal("import timestamp not recorded")
	}

	src, err := NewCandidateSource(db, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*LocalSource); !ok {
		t.Fatalf("source=%T", src)
	}

	cfg.LedgerAPIBaseURL = "https://example.test"
	src, err = NewCandidateSource(db, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(FallbackSource); !ok {
		t.Fatalf("source=%T", src)
	}
}
