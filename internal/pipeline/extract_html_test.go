package pipeline

import (
	"reflect"
	"testing"
)

const remittanceTableHTML = `<p>Payment for the invoices below.</p>
<table>
<tr><th>Invoice #</th><th>Invoice Date</th><th>Amount Paid</th></tr>
<tr><td>INV-1001</td><td>01/02/2024</td><td>$1,000.00</td></tr>
<tr><td>INV-1002</td><td>01/05/2024</td><td>500.00</td></tr>
<tr><td>Total</td><td></td><td>$1,500.00</td></tr>
</table>`

func TestParseHTMLRemittance(t *testing.T) {
	rec, ok := parseHTMLRemittance(remittanceTableHTML)
	if !ok {
		t.Fatal("table not recognised")
	}
	if !reflect.DeepEqual(rec.InvoiceNumbers, []string{"INV-1001", "INV-1002"}) {
		t.Fatalf("invoices=%v", rec.InvoiceNumbers)
	}
	if rec.Amount == nil || *rec.Amount != 1500 {
		t.Fatalf("amount=%v", rec.Amount)
	}
	if rec.Date == nil || *rec.Date != "01/02/2024" {
		t.Fatalf("date=%v", rec.Date)
	}
}

func TestParseHTMLRemittanceIgnoresLayoutTables(t *testing.T) {
	if _, ok := parseHTMLRemittance(`<table><tr><td>Hello</td></tr><tr><td>World</td></tr></table>`); ok {
		t.Fatal("layout table treated as remittance")
	}
}

func TestBodyRemittanceOverlaysText(t *testing.T) {
	rec, ok := bodyRemittance("Check #2222 enclosed. Customer: Gamma LLC", remittanceTableHTML)
	if !ok {
		t.Fatal("body not recognised")
	}
	if rec.CheckNumber == nil || *rec.CheckNumber != "2222" {
		t.Fatalf("check=%v", rec.CheckNumber)
	}
	if rec.Amount == nil || *rec.Amount != 1500 {
		t.Fatalf("amount=%v", rec.Amount)
	}
}
