package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"remitmatch/internal"
	"remitmatch/internal/storage"
)

// BuildExportRows flattens in-memory results into export rows, one per group.
// The customer column holds the first name present in precedence.
func BuildExportRows(emailID int, document string, results []internal.GroupResult, precedence []string) []internal.ExportRow {
	rows := make([]internal.ExportRow, 0, len(results))
	for _, r := range results {
		g := r.Group
		row := internal.ExportRow{
			EmailID:        emailID,
			Document:       document,
			GroupOrdinal:   g.Ordinal,
			GroupLabel:     g.Label,
			CheckNumber:    g.CheckNumber,
			Amount:         g.Amount,
			Date:           g.Date,
			CustomerName:   ResolveName(g, precedence),
			InvoiceNumbers: g.InvoiceNumbers,
			SourcePages:    g.SourcePages,
			DroppedPages:   g.DroppedPages,
		}
		if r.Error != "" {
			msg := r.Error
			row.Error = &msg
		}
		storage.FillMatchColumns(&row, r.Matches)
		rows = append(rows, row)
	}
	return rows
}

func ExportRowsToXLSX(rows []internal.ExportRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{
		"email_id", "document", "group", "label", "check_number", "amount", "date", "customer",
		"invoice_numbers", "source_pages", "dropped_pages", "error",
		"match_invoice_id", "match_invoice_number", "match_customer", "match_amount", "match_score", "match_reasons",
		"candidate2_invoice_number", "candidate2_score", "match_count",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.EmailID)
		set(2, row.Document)
		set(3, row.GroupOrdinal)
		set(4, row.GroupLabel)
		set(5, derefString(row.CheckNumber))
		set(6, derefFloat(row.Amount))
		set(7, derefString(row.Date))
		set(8, derefString(row.CustomerName))
		set(9, strings.Join(row.InvoiceNumbers, ", "))
		set(10, joinInts(row.SourcePages))
		set(11, joinInts(row.DroppedPages))
		set(12, derefString(row.Error))
		set(13, derefString(row.TopInvoiceID))
		set(14, derefString(row.TopInvoiceNumber))
		set(15, derefString(row.TopCustomer))
		set(16, derefFloat(row.TopAmount))
		set(17, derefFloat(row.TopScore))
		set(18, strings.Join(row.TopReasons, "; "))
		set(19, derefString(row.Runner2Number))
		set(20, derefFloat(row.Runner2Score))
		set(21, row.MatchCount)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ",")
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
