package pipeline

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"remitmatch/internal"
	"remitmatch/internal/util"
)

const (
	minPlausibleAmount = 0.01
	maxPlausibleAmount = 10_000_000
)

var (
	checkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcheck\s+(?:number|no\.?)\s*:?\s*#?\s*(\d+)`),
		regexp.MustCompile(`(?i)\bcheck\s*#?\s*:?\s*(\d+)`),
		regexp.MustCompile(`(?i)\bck\s*#?\s*:?\s*(\d+)`),
	}
	labelledAmount = regexp.MustCompile(`(?i)\b(?:amount\s+paid|payment\s+amount|amount\s+is|pay\s+amount|amount|numerical|handwritten)\s*:?\s*\$?\s*\**\s*(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?)\b`)
	dollarAmount   = regexp.MustCompile(`\$\s*\**\s*(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?)\b`)
	labelledDate   = regexp.MustCompile(`(?i)\bdate(?:\s+presented)?\s*:?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)
	anyDate        = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})\b`)
	invoicePattern = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\binv(?:oice)?\s*(?:number|no\.?)?\s*#?\s*:?\s*([A-Z0-9][A-Z0-9\-]*)`),
		regexp.MustCompile(`\b([A-Z]{2,}-[A-Z0-9\-]*[0-9][A-Z0-9\-]*)\b`),
	}
	partyLine = regexp.MustCompile(`(?i)^\s*(payor(?:\s+name)?|remitter|customer(?:\s+name)?|pay\s+to\s+the\s+order\s+of)\s*:?\s*(.+)$`)
)

// PageExtractor turns a scanned document into per-page records. PDFTextExtractor
// reads the embedded text layer; OCR backends implement the same interface.
type PageExtractor interface {
	ExtractDocument(name string, content []byte) (internal.Document, error)
}

type PDFTextExtractor struct{}

func (PDFTextExtractor) ExtractDocument(name string, content []byte) (internal.Document, error) {
	return ExtractPDFDocument(name, content)
}

// ExtractPDFDocument returns one record per PDF page. Pages without readable
// text are reported as failures; only an unreadable file is an error.
func ExtractPDFDocument(name string, content []byte) (internal.Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return internal.Document{}, fmt.Errorf("open pdf %s: %w", name, err)
	}

	doc := internal.Document{Name: name, Pages: []internal.PageExtractionRecord{}, Failures: []internal.PageFailure{}}
	for i := 1; i <= r.NumPage(); i++ {
		text, err := pageText(r, i)
		if err != nil {
			doc.Failures = append(doc.Failures, internal.PageFailure{PageIndex: i - 1, Reason: err.Error()})
			continue
		}
		doc.Pages = append(doc.Pages, ParsePageText(i-1, text))
	}
	return doc, nil
}

func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed page: %v", rec)
		}
	}()
	p := r.Page(n)
	if p.V.IsNull() {
		return "", fmt.Errorf("missing page object")
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text layer")
	}
	return text, nil
}

// ParsePageText pulls payment fields out of one page of check or remittance
// text. Anything not found is left nil.
func ParsePageText(index int, text string) internal.PageExtractionRecord {
	rec := internal.PageExtractionRecord{PageIndex: index, InvoiceNumbers: []string{}}
	if strings.TrimSpace(text) == "" {
		return rec
	}
	rec.RawText = util.StringPtr(text)

	for _, re := range checkPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			rec.CheckNumber = util.StringPtr(m[1])
			break
		}
	}

	rec.Amount = pickAmount(labelledAmount, text)
	if rec.Amount == nil {
		rec.Amount = pickAmount(dollarAmount, text)
	}

	if m := labelledDate.FindStringSubmatch(text); m != nil {
		rec.Date = util.StringPtr(m[1])
	} else if m := anyDate.FindStringSubmatch(text); m != nil {
		rec.Date = util.StringPtr(m[1])
	}

	for _, line := range splitLines(text) {
		m := partyLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := cleanPartyName(m[2])
		if value == "" {
			continue
		}
		label := strings.ToLower(util.NormalizeSpaces(m[1]))
		switch {
		case strings.HasPrefix(label, "pay to"):
			setOnce(&rec.PayeeName, value)
		case strings.HasPrefix(label, "customer"):
			setOnce(&rec.CustomerName, value)
		default:
			setOnce(&rec.PayorName, value)
		}
	}

	rec.InvoiceNumbers = findInvoiceNumbers(text)
	return rec
}

// pickAmount votes across every match in the plausible range; the most
// frequent value wins and ties go to the first seen.
func pickAmount(re *regexp.Regexp, text string) *float64 {
	counts := map[float64]int{}
	order := []float64{}
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		v := util.ParseAmount(m[1])
		if v == nil || *v < minPlausibleAmount || *v > maxPlausibleAmount {
			continue
		}
		if counts[*v] == 0 {
			order = append(order, *v)
		}
		counts[*v]++
	}
	if len(order) == 0 {
		return nil
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return util.FloatPtr(best)
}

func findInvoiceNumbers(text string) []string {
	found := []string{}
	for _, re := range invoicePattern {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if util.LooksLikeInvoiceNumber(m[1]) {
				found = append(found, strings.TrimRight(m[1], "-"))
			}
		}
	}
	return util.DedupeStrings(found, util.NormalizeInvoiceNumber)
}

func cleanPartyName(raw string) string {
	return strings.Trim(util.NormalizeSpaces(raw), " ,.:;")
}

func setOnce(dst **string, value string) {
	if *dst == nil {
		*dst = util.StringPtr(value)
	}
}

// EmailExtraction is everything the processor needs from one raw message.
type EmailExtraction struct {
	Subject     string
	Text        string
	Attachments []string
	Documents   []internal.Document
}

// ExtractDocumentsFromEmailRaw turns a raw message into reconcilable
// documents: every PDF attachment, every spreadsheet remittance, and the body
// itself when it carries a remittance table or payment references.
func ExtractDocumentsFromEmailRaw(raw []byte, extractor PageExtractor) (EmailExtraction, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return EmailExtraction{}, err
	}
	if extractor == nil {
		extractor = PDFTextExtractor{}
	}

	out := EmailExtraction{Subject: env.GetHeader("Subject"), Text: env.Text}
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		out.Attachments = append(out.Attachments, filename)
		lower := strings.ToLower(filename)

		switch {
		case strings.HasSuffix(lower, ".pdf"):
			doc, err := extractor.ExtractDocument(filename, att.Content)
			if err != nil {
				// whole file unreadable: keep it visible as a failed single page
				doc = internal.Document{Name: filename, Failures: []internal.PageFailure{{PageIndex: 0, Reason: err.Error()}}}
			}
			out.Documents = append(out.Documents, doc)
		case strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm"):
			if rec, ok := parseXLSXRemittance(att.Content); ok {
				out.Documents = append(out.Documents, internal.Document{Name: filename, Pages: []internal.PageExtractionRecord{rec}})
			}
		}
	}

	if body, ok := bodyRemittance(env.Text, env.HTML); ok {
		out.Documents = append(out.Documents, internal.Document{Name: "email-body", Pages: []internal.PageExtractionRecord{body}})
	}
	uniqueDocumentNames(out.Documents)
	return out, nil
}

// uniqueDocumentNames suffixes repeated names ("scan.pdf", "scan.pdf (2)");
// results are stored per document name.
func uniqueDocumentNames(docs []internal.Document) {
	seen := map[string]int{}
	for i := range docs {
		name := docs[i].Name
		seen[name]++
		if n := seen[name]; n > 1 {
			docs[i].Name = fmt.Sprintf("%s (%d)", name, n)
		}
	}
}

func bodyRemittance(text, html string) (internal.PageExtractionRecord, bool) {
	rec := ParsePageText(0, text)
	table, hasTable := parseHTMLRemittance(html)
	if hasTable {
		rec = overlay(table, rec)
	}
	if !hasTable && rec.CheckNumber == nil && len(rec.InvoiceNumbers) == 0 {
		return internal.PageExtractionRecord{}, false
	}
	return rec, true
}

// overlay fills fields missing from primary with values from secondary.
func overlay(primary, secondary internal.PageExtractionRecord) internal.PageExtractionRecord {
	out := primary
	if out.CheckNumber == nil {
		out.CheckNumber = secondary.CheckNumber
	}
	if out.Amount == nil {
		out.Amount = secondary.Amount
	}
	if out.Date == nil {
		out.Date = secondary.Date
	}
	if out.PayorName == nil {
		out.PayorName = secondary.PayorName
	}
	if out.CustomerName == nil {
		out.CustomerName = secondary.CustomerName
	}
	if out.RawText == nil {
		out.RawText = secondary.RawText
	}
	out.InvoiceNumbers = util.DedupeStrings(append(append([]string{}, primary.InvoiceNumbers...), secondary.InvoiceNumbers...), util.NormalizeInvoiceNumber)
	return out
}

func parseHTMLRemittance(html string) (internal.PageExtractionRecord, bool) {
	if strings.TrimSpace(html) == "" {
		return internal.PageExtractionRecord{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return internal.PageExtractionRecord{}, false
	}

	var rec internal.PageExtractionRecord
	found := false
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		rows := [][]string{}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.NormalizeSpaces(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		rec, found = remittanceFromRows(rows)
		return !found
	})
	return rec, found
}

func parseXLSXRemittance(content []byte) (internal.PageExtractionRecord, bool) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return internal.PageExtractionRecord{}, false
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		if rec, ok := remittanceFromRows(normalizeRows(rows)); ok {
			return rec, true
		}
	}
	return internal.PageExtractionRecord{}, false
}

type remittanceColumns struct {
	invoice, amount, check, customer, date int
}

// remittanceFromRows reads a remittance advice table: a header row naming an
// invoice column, then one row per paid invoice. Amounts are summed unless a
// total row is present.
func remittanceFromRows(rows [][]string) (internal.PageExtractionRecord, bool) {
	if len(rows) < 2 {
		return internal.PageExtractionRecord{}, false
	}
	header := -1
	var cols remittanceColumns
	for i := 0; i < len(rows) && i < 3; i++ {
		c := inferRemittanceColumns(rows[i])
		if c.invoice >= 0 {
			header, cols = i, c
			break
		}
	}
	if header < 0 {
		return internal.PageExtractionRecord{}, false
	}

	rec := internal.PageExtractionRecord{PageIndex: 0, InvoiceNumbers: []string{}}
	var lines []string
	sum, total := 0.0, (*float64)(nil)
	for _, cells := range rows[header+1:] {
		lines = append(lines, strings.Join(cells, " | "))
		first := strings.ToLower(pickCell(cells, 0, -1))
		amount := util.ParseAmount(pickCell(cells, cols.amount, -1))
		if strings.HasPrefix(first, "total") {
			if amount != nil {
				total = amount
			}
			continue
		}

		inv := pickCell(cells, cols.invoice, -1)
		if util.LooksLikeInvoiceNumber(inv) {
			rec.InvoiceNumbers = append(rec.InvoiceNumbers, inv)
			if amount != nil {
				sum += *amount
			}
		}
		if v := pickCell(cells, cols.check, -1); v != "" {
			setOnce(&rec.CheckNumber, v)
		}
		if v := pickCell(cells, cols.customer, -1); v != "" {
			setOnce(&rec.CustomerName, v)
		}
		if v := pickCell(cells, cols.date, -1); v != "" {
			setOnce(&rec.Date, v)
		}
	}
	if len(rec.InvoiceNumbers) == 0 {
		return internal.PageExtractionRecord{}, false
	}
	rec.InvoiceNumbers = util.DedupeStrings(rec.InvoiceNumbers, util.NormalizeInvoiceNumber)
	switch {
	case total != nil:
		rec.Amount = total
	case sum > 0:
		rec.Amount = util.FloatPtr(sum)
	}
	rec.RawText = util.StringPtr(strings.Join(lines, "\n"))
	return rec, true
}

func inferRemittanceColumns(headers []string) remittanceColumns {
	norm := make([]string, 0, len(headers))
	for _, h := range headers {
		norm = append(norm, strings.ToLower(h))
	}
	return remittanceColumns{
		invoice:  findHeaderIndex(norm, []string{"invoice", "inv #", "inv no", "document"}),
		amount:   findHeaderIndex(norm, []string{"amount paid", "paid", "payment", "amount", "net"}),
		check:    findHeaderIndex(norm, []string{"check", "cheque", "reference"}),
		customer: findHeaderIndex(norm, []string{"customer", "payor", "remitter", "vendor"}),
		date:     findHeaderIndex(norm, []string{"date"}),
	}
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// findHeaderIndex returns the first header containing any probe, trying
// probes in priority order.
func findHeaderIndex(headers []string, probes []string) int {
	for _, probe := range probes {
		for i, h := range headers {
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}

func pickCell(cells []string, idx int, fallback int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	if fallback >= 0 && fallback < len(cells) {
		return strings.TrimSpace(cells[fallback])
	}
	return ""
}

func normalizeRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, c := range row {
			cells = append(cells, util.NormalizeSpaces(c))
		}
		out = append(out, cells)
	}
	return out
}
