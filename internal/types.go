package internal

// PageExtractionRecord is one page as produced by the extraction step.
// Nil pointers mean the field was not extracted on that page.
type PageExtractionRecord struct {
	PageIndex      int      `json:"page_index"`
	CheckNumber    *string  `json:"check_number,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	Date           *string  `json:"date,omitempty"`
	PayorName      *string  `json:"payor_name,omitempty"`
	PayeeName      *string  `json:"payee_name,omitempty"`
	CustomerName   *string  `json:"customer_name,omitempty"`
	InvoiceNumbers []string `json:"invoice_numbers"`
	RawText        *string  `json:"raw_text,omitempty"`
}

// PageFailure records a page the extraction step could not read.
type PageFailure struct {
	PageIndex int    `json:"page_index"`
	Reason    string `json:"reason"`
}

// Document is the ordered page set of one scanned file.
type Document struct {
	Name     string                 `json:"name"`
	Pages    []PageExtractionRecord `json:"pages"`
	Failures []PageFailure          `json:"failed_pages,omitempty"`
}

type PaymentRecord struct {
	Ordinal        int      `json:"ordinal"`
	Label          string   `json:"label"`
	CheckNumber    *string  `json:"check_number"`
	Amount         *float64 `json:"amount"`
	Date           *string  `json:"date"`
	PayorName      *string  `json:"payor_name"`
	CustomerName   *string  `json:"customer_name"`
	InvoiceNumbers []string `json:"invoice_numbers"`
	SourcePages    []int    `json:"source_pages"`
	Degraded       bool     `json:"degraded"`
	DroppedPages   []int    `json:"dropped_pages,omitempty"`
	Notes          []string `json:"notes,omitempty"`
}

type InvoiceCandidate struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	CustomerName  string  `json:"customer_name"`
	Amount        float64 `json:"amount"`
	DueDate       *string `json:"due_date,omitempty"`
	Subsidiary    *string `json:"subsidiary,omitempty"`
}

// CandidateQuery is a partial search; any field may be empty.
type CandidateQuery struct {
	InvoiceNumbers []string `json:"invoice_numbers,omitempty"`
	CustomerName   *string  `json:"customer_name,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

func (q CandidateQuery) IsEmpty() bool {
	return len(q.InvoiceNumbers) == 0 && q.CustomerName == nil && q.Amount == nil
}

type MatchResult struct {
	InvoiceID     string   `json:"invoice_id"`
	InvoiceNumber string   `json:"invoice_number"`
	CustomerName  string   `json:"customer_name"`
	Amount        float64  `json:"amount"`
	DueDate       *string  `json:"due_date,omitempty"`
	Subsidiary    *string  `json:"subsidiary,omitempty"`
	MatchScore    float64  `json:"match_score"`
	MatchReasons  []string `json:"match_reasons"`
}

// GroupResult pairs a payment group with its ranked matches. Err is set when
// candidate retrieval failed for this group only.
type GroupResult struct {
	Group   PaymentRecord `json:"group"`
	Matches []MatchResult `json:"matches"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type ExportRow struct {
	EmailID          int
	Document         string
	GroupOrdinal     int
	GroupLabel       string
	CheckNumber      *string
	Amount           *float64
	Date             *string
	CustomerName     *string
	InvoiceNumbers   []string
	SourcePages      []int
	DroppedPages     []int
	Error            *string
	TopInvoiceID     *string
	TopInvoiceNumber *string
	TopCustomer      *string
	TopAmount        *float64
	TopScore         *float64
	TopReasons       []string
	Runner2Number    *string
	Runner2Score     *float64
	MatchCount       int
}
