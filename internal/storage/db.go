package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"remitmatch/internal"
	"remitmatch/internal/util"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS invoices (
  invoiceId TEXT PRIMARY KEY,
  invoiceNumber TEXT NOT NULL,
  customerName TEXT NOT NULL DEFAULT '',
  amount REAL NOT NULL DEFAULT 0,
  dueDate TEXT,
  subsidiary TEXT,
  source TEXT NOT NULL,
  lastSeenAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoiceNumber);
CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customerName);

CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS group_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  emailId INTEGER NOT NULL,
  document TEXT NOT NULL,
  ordinal INTEGER NOT NULL,
  label TEXT NOT NULL,
  checkNumber TEXT,
  amount REAL,
  paymentDate TEXT,
  customerName TEXT,
  invoiceNumbersJson TEXT NOT NULL,
  sourcePagesJson TEXT NOT NULL,
  droppedPagesJson TEXT NOT NULL,
  error TEXT,
  matchesJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(emailId, document, ordinal),
  FOREIGN KEY(emailId) REFERENCES emails(id)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  emailId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  error TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) UpsertInvoices(invoices []internal.InvoiceCandidate, source string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO invoices (invoiceId, invoiceNumber, customerName, amount, dueDate, subsidiary, source, lastSeenAt)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(invoiceId) DO UPDATE SET
  invoiceNumber=excluded.invoiceNumber,
  customerName=excluded.customerName,
  amount=excluded.amount,
  dueDate=excluded.dueDate,
  subsidiary=excluded.subsidiary,
  source=excluded.source,
  lastSeenAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inv := range invoices {
		if _, err := stmt.Exec(inv.InvoiceID, inv.InvoiceNumber, inv.CustomerName, inv.Amount, inv.DueDate, inv.Subsidiary, source); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListInvoices() ([]internal.InvoiceCandidate, error) {
	rows, err := d.conn.Query(`
SELECT invoiceId, invoiceNumber, customerName, amount, dueDate, subsidiary
FROM invoices ORDER BY invoiceNumber ASC, invoiceId ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.InvoiceCandidate
	for rows.Next() {
		var inv internal.InvoiceCandidate
		if err := rows.Scan(&inv.InvoiceID, &inv.InvoiceNumber, &inv.CustomerName, &inv.Amount, &inv.DueDate, &inv.Subsidiary); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (d *DB) GetInvoice(invoiceID string) (*internal.InvoiceCandidate, error) {
	var inv internal.InvoiceCandidate
	err := d.conn.QueryRow(`
SELECT invoiceId, invoiceNumber, customerName, amount, dueDate, subsidiary
FROM invoices WHERE invoiceId = ?`, invoiceID).Scan(&inv.InvoiceID, &inv.InvoiceNumber, &inv.CustomerName, &inv.Amount, &inv.DueDate, &inv.Subsidiary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (d *DB) UpsertEmail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}

	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

const emailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef`

func scanEmail(scan func(dest ...any) error) (internal.EmailRow, error) {
	var row internal.EmailRow
	err := scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef)
	return row, err
}

func (d *DB) GetEmailByProviderMessageID(provider, messageID string) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE provider = ? AND messageId = ?`, provider, messageID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetEmailByID(id int) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListEmailsByStatus(status string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.Query(`SELECT `+emailColumns+` FROM emails WHERE status = ? ORDER BY receivedAt ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		row, err := scanEmail(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(emailID int, status string) error {
	_, err := d.conn.Exec(`UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	return err
}

// CustomerResolver picks the name stored in a group's customer column.
// A nil resolver stores CustomerName as extracted.
type CustomerResolver func(internal.PaymentRecord) *string

// DocumentResults are the group results of one document of an email.
type DocumentResults struct {
	Document string
	Results  []internal.GroupResult
}

// ReplaceEmailResults swaps every stored result of an email for docs in one
// transaction, so earlier results survive until the new ones are complete.
func (d *DB) ReplaceEmailResults(emailID int, docs []DocumentResults, customerOf CustomerResolver) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM group_results WHERE emailId = ?`, emailID); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := insertGroupResults(tx, emailID, doc.Document, doc.Results, customerOf); err != nil {
			return fmt.Errorf("save %s: %w", doc.Document, err)
		}
	}
	return tx.Commit()
}

func insertGroupResults(tx *sql.Tx, emailID int, document string, results []internal.GroupResult, customerOf CustomerResolver) error {
	stmt, err := tx.Prepare(`
INSERT INTO group_results (
  emailId, document, ordinal, label, checkNumber, amount, paymentDate, customerName,
  invoiceNumbersJson, sourcePagesJson, droppedPagesJson, error, matchesJson
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		g := r.Group
		invoicesJSON, _ := json.Marshal(nonNilStrings(g.InvoiceNumbers))
		pagesJSON, _ := json.Marshal(nonNilInts(g.SourcePages))
		droppedJSON, _ := json.Marshal(nonNilInts(g.DroppedPages))
		matchesJSON, _ := json.Marshal(r.Matches)
		var errText *string
		if r.Error != "" {
			errText = util.StringPtr(r.Error)
		}
		customer := g.CustomerName
		if customerOf != nil {
			customer = customerOf(g)
		}
		if _, err := stmt.Exec(
			emailID, document, g.Ordinal, g.Label, g.CheckNumber, g.Amount, g.Date, customer,
			string(invoicesJSON), string(pagesJSON), string(droppedJSON), errText, string(matchesJSON),
		); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun records one processing run. runErr is stored when the run failed.
func (d *DB) InsertRun(traceID string, emailID int, timings map[string]float64, counts map[string]int, runErr error) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	var errText *string
	if runErr != nil {
		errText = util.StringPtr(runErr.Error())
	}
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, emailId, timingsJson, countsJson, error) VALUES (?, ?, ?, ?, ?)`,
		traceID, emailID, string(timingsJSON), string(countsJSON), errText)
	return err
}

// LastRunError returns the error of the email's most recent run, nil when it
// succeeded or never ran.
func (d *DB) LastRunError(emailID int) (*string, error) {
	var errText sql.NullString
	err := d.conn.QueryRow(`SELECT error FROM runs WHERE emailId = ? ORDER BY id DESC LIMIT 1`, emailID).Scan(&errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !errText.Valid {
		return nil, nil
	}
	return &errText.String, nil
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func (d *DB) GetExportRows(emailID int) ([]internal.ExportRow, error) {
	rows, err := d.conn.Query(`
SELECT document, ordinal, label, checkNumber, amount, paymentDate, customerName,
       invoiceNumbersJson, sourcePagesJson, droppedPagesJson, error, matchesJson
FROM group_results
WHERE emailId = ?
ORDER BY id ASC
`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ExportRow
	for rows.Next() {
		row := internal.ExportRow{EmailID: emailID}
		var invoicesJSON, pagesJSON, droppedJSON, matchesJSON string
		if err := rows.Scan(
			&row.Document, &row.GroupOrdinal, &row.GroupLabel, &row.CheckNumber, &row.Amount, &row.Date, &row.CustomerName,
			&invoicesJSON, &pagesJSON, &droppedJSON, &row.Error, &matchesJSON,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(invoicesJSON), &row.InvoiceNumbers)
		_ = json.Unmarshal([]byte(pagesJSON), &row.SourcePages)
		_ = json.Unmarshal([]byte(droppedJSON), &row.DroppedPages)

		var matches []internal.MatchResult
		_ = json.Unmarshal([]byte(matchesJSON), &matches)
		FillMatchColumns(&row, matches)
		out = append(out, row)
	}

	return out, rows.Err()
}

// FillMatchColumns copies the top match and the runner-up into an export row.
func FillMatchColumns(row *internal.ExportRow, matches []internal.MatchResult) {
	row.MatchCount = len(matches)
	if len(matches) > 0 {
		top := matches[0]
		row.TopInvoiceID = util.StringPtr(top.InvoiceID)
		row.TopInvoiceNumber = util.StringPtr(top.InvoiceNumber)
		row.TopCustomer = util.StringPtr(top.CustomerName)
		row.TopAmount = util.FloatPtr(top.Amount)
		row.TopScore = util.FloatPtr(top.MatchScore)
		row.TopReasons = top.MatchReasons
	}
	if len(matches) > 1 {
		row.Runner2Number = util.StringPtr(matches[1].InvoiceNumber)
		row.Runner2Score = util.FloatPtr(matches[1].MatchScore)
	}
}

func (d *DB) MustEmailByProviderMessageID(provider, messageID string) (internal.EmailRow, error) {
	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, fmt.Errorf("email not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
