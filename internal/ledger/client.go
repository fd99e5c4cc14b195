package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"remitmatch/internal"
	"remitmatch/internal/config"
	"remitmatch/internal/retry"
	"remitmatch/internal/util"
)

var (
	ErrInvalidQuery  = errors.New("invalid candidate query")
	ErrNotConfigured = errors.New("missing LEDGER_API_BASE_URL")
)

// StatusError is a non-2xx answer from the ledger API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *StatusError) Temporary() bool {
	return isRetryableStatus(e.StatusCode)
}

// Client talks to the remote invoice ledger. Search is a single attempt:
// non-retryable failures come back marked with retry.Permanent and the caller
// owns the retry loop.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type searchPayload struct {
	Invoices []map[string]any `json:"invoices"`
}

type scrollPayload struct {
	Invoices []map[string]any `json:"invoices"`
	ScrollID *string          `json:"scrollId"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.LedgerTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.LedgerRateLimitRPS),
	}
}

func (c *Client) SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
	if q.IsEmpty() {
		return nil, retry.Permanent(ErrInvalidQuery)
	}
	if q.Amount != nil && *q.Amount < 0 {
		return nil, retry.Permanent(fmt.Errorf("%w: negative amount", ErrInvalidQuery))
	}

	params := url.Values{}
	for _, number := range q.InvoiceNumbers {
		params.Add("invoice_number", number)
	}
	if q.CustomerName != nil {
		params.Set("customer_name", *q.CustomerName)
	}
	if q.Amount != nil {
		params.Set("amount", strconv.FormatFloat(*q.Amount, 'f', 2, 64))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = c.cfg.LedgerSearchLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.fetchJSON(ctx, "invoices/search", params)
	if err != nil {
		return nil, err
	}
	var payload searchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode search payload: %w", err))
	}
	return toCandidates(payload.Invoices), nil
}

// GetInvoice returns nil without error when the ledger has no such invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*internal.InvoiceCandidate, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, ErrInvalidQuery
	}
	body, err := c.fetchJSON(ctx, "invoices/"+url.PathEscape(invoiceID), url.Values{})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	invoice, err := toInvoiceCandidate(raw)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetOpenInvoicesScrollAll pages through every open invoice. Each page is
// retried on transient failure.
func (c *Client) GetOpenInvoicesScrollAll(ctx context.Context) ([]internal.InvoiceCandidate, error) {
	all := make([]internal.InvoiceCandidate, 0)
	seen := map[string]struct{}{}
	var scrollID string

	policy := retry.Policy{
		Attempts:       5,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       4 * time.Second,
		AttemptTimeout: time.Duration(c.cfg.LedgerTimeoutMs) * time.Millisecond,
	}

	for {
		params := url.Values{}
		if scrollID != "" {
			params.Set("scrollId", scrollID)
		}

		var body []byte
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			var err error
			body, err = c.fetchJSON(ctx, "invoices/open", params)
			return err
		})
		if err != nil {
			return nil, err
		}

		var payload scrollPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		all = append(all, toCandidates(payload.Invoices)...)

		if payload.ScrollID == nil || *payload.ScrollID == "" || len(payload.Invoices) == 0 {
			break
		}
		if _, ok := seen[*payload.ScrollID]; ok {
			break
		}
		seen[*payload.ScrollID] = struct{}{}
		scrollID = *payload.ScrollID
	}

	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if strings.TrimSpace(c.cfg.LedgerAPIBaseURL) == "" {
		return nil, retry.Permanent(ErrNotConfigured)
	}

	baseURL := strings.TrimRight(c.cfg.LedgerAPIBaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	u.RawQuery = params.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if token := strings.TrimSpace(c.cfg.LedgerAPIToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		if statusErr.Temporary() {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode ledger response: %w", err))
	}
	if !apiResp.Success {
		return nil, retry.Permanent(fmt.Errorf("ledger api unsuccessful: %s %s", apiResp.Message, string(apiResp.Errors)))
	}
	return apiResp.Data, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toCandidates(raws []map[string]any) []internal.InvoiceCandidate {
	out := make([]internal.InvoiceCandidate, 0, len(raws))
	for _, raw := range raws {
		invoice, err := toInvoiceCandidate(raw)
		if err != nil {
			continue
		}
		out = append(out, invoice)
	}
	return out
}

func toInvoiceCandidate(raw map[string]any) (internal.InvoiceCandidate, error) {
	number := firstString(raw, "invoice_number", "tranid", "tranId")
	if number == "" {
		return internal.InvoiceCandidate{}, errors.New("missing invoice number")
	}
	id := firstString(raw, "invoice_id", "id")
	if id == "" {
		if n, ok := toInt(raw["id"]); ok {
			id = strconv.Itoa(n)
		}
	}
	if id == "" {
		id = number
	}

	invoice := internal.InvoiceCandidate{
		InvoiceID:     id,
		InvoiceNumber: number,
		CustomerName:  firstString(raw, "customer_name", "entity", "companyname"),
		DueDate:       toStringPtr(firstAny(raw, "due_date", "duedate")),
		Subsidiary:    toStringPtr(raw["subsidiary"]),
	}
	if amount := toFloatPtr(firstAny(raw, "amount", "amountremaining", "total")); amount != nil {
		invoice.Amount = *amount
	}
	return invoice, nil
}

func firstAny(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := toStringPtr(raw[k]); s != nil {
			return *s
		}
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func toFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	case string:
		return util.ParseAmount(t)
	}
	return nil
}

func toStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return util.StringPtr(s)
}
