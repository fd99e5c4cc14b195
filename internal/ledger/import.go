package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"remitmatch/internal"
	"remitmatch/internal/util"
)

type columnMap struct {
	id, number, customer, amount, dueDate, subsidiary int
}

// ImportFile reads a ledger export (.xlsx or .csv). Rows without an invoice
// number are skipped; an export without an id column uses the number as id.
func ImportFile(path string) ([]internal.InvoiceCandidate, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ImportXLSX(blob)
	case ".csv":
		return ImportCSV(bytes.NewReader(blob))
	default:
		return nil, fmt.Errorf("unsupported ledger file: %s", path)
	}
}

func ImportXLSX(content []byte) ([]internal.InvoiceCandidate, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []internal.InvoiceCandidate{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) < 2 {
			continue
		}
		out = append(out, rowsToInvoices(rows)...)
	}
	return out, nil
}

func ImportCSV(r io.Reader) ([]internal.InvoiceCandidate, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}
	return rowsToInvoices(rows), nil
}

func rowsToInvoices(rows [][]string) []internal.InvoiceCandidate {
	cols := inferColumns(rows[0])
	if cols.number < 0 {
		return nil
	}

	out := make([]internal.InvoiceCandidate, 0, len(rows)-1)
	for _, row := range rows[1:] {
		number := cleanInvoiceNumber(cell(row, cols.number))
		if number == "" {
			continue
		}
		inv := internal.InvoiceCandidate{
			InvoiceID:     cell(row, cols.id),
			InvoiceNumber: number,
			CustomerName:  cell(row, cols.customer),
		}
		if inv.InvoiceID == "" {
			inv.InvoiceID = number
		}
		if amount := util.ParseAmount(cell(row, cols.amount)); amount != nil {
			inv.Amount = *amount
		}
		if due := cell(row, cols.dueDate); due != "" {
			inv.DueDate = util.StringPtr(due)
		}
		if sub := cell(row, cols.subsidiary); sub != "" {
			inv.Subsidiary = util.StringPtr(sub)
		}
		out = append(out, inv)
	}
	return out
}

func inferColumns(header []string) columnMap {
	norm := make([]string, 0, len(header))
	for _, h := range header {
		norm = append(norm, strings.ToLower(strings.TrimSpace(h)))
	}
	find := func(exact []string, probes []string) int {
		for i, h := range norm {
			for _, e := range exact {
				if h == e {
					return i
				}
			}
		}
		for i, h := range norm {
			for _, p := range probes {
				if strings.Contains(h, p) {
					return i
				}
			}
		}
		return -1
	}
	return columnMap{
		id:         find([]string{"id", "internal id", "invoice id"}, nil),
		number:     find([]string{"invoice number", "document number", "tranid"}, []string{"invoice #", "invoice no", "number"}),
		customer:   find([]string{"name", "customer"}, []string{"customer", "entity", "company"}),
		amount:     find([]string{"amount"}, []string{"amount", "total"}),
		dueDate:    find([]string{"due date"}, []string{"due"}),
		subsidiary: find([]string{"subsidiary"}, []string{"subsid"}),
	}
}

func cleanInvoiceNumber(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(s), "invoice #") {
		s = strings.TrimSpace(s[len("invoice #"):])
	}
	return s
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
