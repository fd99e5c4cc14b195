package pipeline

import (
	"testing"

	"remitmatch/internal"
)

func TestBuildExportRowsCustomerFollowsPrecedence(t *testing.T) {
	results := []internal.GroupResult{
		{
			Group:   internal.PaymentRecord{Ordinal: 1, Label: "check 1", CustomerName: strp("Acme Corp"), PayorName: strp("Acme Payables")},
			Matches: []internal.MatchResult{{InvoiceID: "1", InvoiceNumber: "INV-1", MatchScore: 180}},
		},
		{
			Group:   internal.PaymentRecord{Ordinal: 2, Label: "group 2", PayorName: strp("Beta Treasury")},
			Matches: []internal.MatchResult{},
			Error:   "ledger unavailable",
		},
	}

	tests := []struct {
		name       string
		precedence []string
		want       []string
	}{
		{"customer first", []string{FieldCustomerName, FieldPayorName}, []string{"Acme Corp", "Beta Treasury"}},
		{"payor first", []string{FieldPayorName, FieldCustomerName}, []string{"Acme Payables", "Beta Treasury"}},
		{"customer only", []string{FieldCustomerName}, []string{"Acme Corp", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := BuildExportRows(3, "scan.pdf", results, tt.precedence)
			if len(rows) != 2 {
				t.Fatalf("rows=%d", len(rows))
			}
			for i, row := range rows {
				if got := derefString(row.CustomerName); got != tt.want[i] {
					t.Fatalf("row %d customer=%q want %q", i, got, tt.want[i])
				}
			}
			if rows[0].EmailID != 3 || rows[0].Document != "scan.pdf" || derefString(rows[0].TopInvoiceNumber) != "INV-1" {
				t.Fatalf("first row=%+v", rows[0])
			}
			if derefString(rows[1].Error) != "ledger unavailable" || rows[1].MatchCount != 0 {
				t.Fatalf("second row=%+v", rows[1])
			}
		})
	}
}
