package pipeline

import (
	"reflect"
	"testing"

	"remitmatch/internal"
)

func TestParsePageTextCheck(t *testing.T) {
	text := `ACME CORP
123 Main St
Check #: 1001
Date: 03/15/2024
Pay to the order of: Widget Supply LLC
Amount: $1,500.00
Memo: INV-2024-001
Payor Name: Acme Corp`

	rec := ParsePageText(3, text)
	if rec.PageIndex != 3 {
		t.Fatalf("index=%d", rec.PageIndex)
	}
	if rec.CheckNumber == nil || *rec.CheckNumber != "1001" {
		t.Fatalf("check=%v", rec.CheckNumber)
	}
	if rec.Amount == nil || *rec.Amount != 1500 {
		t.Fatalf("amount=%v", rec.Amount)
	}
	if rec.Date == nil || *rec.Date != "03/15/2024" {
		t.Fatalf("date=%v", rec.Date)
	}
	if rec.PayeeName == nil || *rec.PayeeName != "Widget Supply LLC" {
		t.Fatalf("payee=%v", rec.PayeeName)
	}
	if rec.PayorName == nil || *rec.PayorName != "Acme Corp" {
		t.Fatalf("payor=%v", rec.PayorName)
	}
	if !reflect.DeepEqual(rec.InvoiceNumbers, []string{"INV-2024-001"}) {
		t.Fatalf("invoices=%v", rec.InvoiceNumbers)
	}
	if rec.RawText == nil {
		t.Fatal("raw text not kept")
	}
}

func TestParsePageTextRemittance(t *testing.T) {
	text := `REMITTANCE ADVICE
Customer: Beta Industries
Invoice Number: UOC-16210973
For inv # 5567
Amount Paid: 250.00
Amount Paid: 250.00
Amount: 99.00`

	rec := ParsePageText(0, text)
	if rec.CheckNumber != nil {
		t.Fatalf("check=%v", *rec.CheckNumber)
	}
	if rec.Amount == nil || *rec.Amount != 250 {
		t.Fatalf("amount=%v", rec.Amount)
	}
	if rec.CustomerName == nil || *rec.CustomerName != "Beta Industries" {
		t.Fatalf("customer=%v", rec.CustomerName)
	}
	if !reflect.DeepEqual(rec.InvoiceNumbers, []string{"UOC-16210973", "5567"}) {
		t.Fatalf("invoices=%v", rec.InvoiceNumbers)
	}
}

func TestParsePageTextAmounts(t *testing.T) {
	cases := []struct {
		name string
		text string
		want float64
	}{
		{"asterisk fill", "Numerical: *****300.00*", 300},
		{"dollar fallback vote", "Total due $75.50 paid $75.50 and $10.00", 75.5},
		{"thousands", "Payment amount: 12,345.67", 12345.67},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ParsePageText(0, tc.text)
			if rec.Amount == nil || *rec.Amount != tc.want {
				t.Fatalf("amount=%v want %v", rec.Amount, tc.want)
			}
		})
	}
}

func TestParsePageTextEmpty(t *testing.T) {
	rec := ParsePageText(2, "  \n ")
	if rec.RawText != nil || rec.CheckNumber != nil || rec.Amount != nil {
		t.Fatalf("rec=%+v", rec)
	}
	if rec.InvoiceNumbers == nil || len(rec.InvoiceNumbers) != 0 {
		t.Fatalf("invoices=%v", rec.InvoiceNumbers)
	}
}

func TestExtractPDFDocumentRejectsGarbage(t *testing.T) {
	if _, err := ExtractPDFDocument("bad.pdf", []byte("not a pdf")); err == nil {
		t.Fatal("expected error")
	}
}

func TestUniqueDocumentNames(t *testing.T) {
	docs := []internal.Document{{Name: "scan.pdf"}, {Name: "advice.xlsx"}, {Name: "scan.pdf"}, {Name: "scan.pdf"}}
	uniqueDocumentNames(docs)
	want := []string{"scan.pdf", "advice.xlsx", "scan.pdf (2)", "scan.pdf (3)"}
	for i, d := range docs {
		if d.Name != want[i] {
			t.Fatalf("doc %d: got %q want %q", i, d.Name, want[i])
		}
	}
}
