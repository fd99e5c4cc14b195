package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"remitmatch/internal"
	"remitmatch/internal/ledger"
	"remitmatch/internal/pipeline"
)

type mockReconciler struct {
	ReconcileBatchFunc func(ctx context.Context, docs []internal.Document) ([][]internal.GroupResult, error)
}

func (m *mockReconciler) ReconcileBatch(ctx context.Context, docs []internal.Document) ([][]internal.GroupResult, error) {
	return m.ReconcileBatchFunc(ctx, docs)
}

type mockSource struct {
	SearchInvoicesFunc func(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error)
}

func (m *mockSource) SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
	return m.SearchInvoicesFunc(ctx, q)
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Count   int             `json:"count"`
}

func newTestServer(rec Reconciler, src InvoiceSource, lookup InvoiceLookup) *Server {
	gin.SetMode(gin.TestMode)
	if rec == nil {
		rec = &mockReconciler{ReconcileBatchFunc: func(context.Context, []internal.Document) ([][]internal.GroupResult, error) {
			return nil, errors.New("unexpected reconcile")
		}}
	}
	if src == nil {
		src = &mockSource{SearchInvoicesFunc: func(context.Context, internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
			return nil, errors.New("unexpected search")
		}}
	}
	if lookup == nil {
		lookup = func(context.Context, string) (*internal.InvoiceCandidate, error) { return nil, nil }
	}
	return NewServer(rec, src, lookup)
}

func do(t *testing.T, s *Server, method, path string, body []byte) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	code, env := do(t, s, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("health: code=%d env=%+v", code, env)
	}
}

func TestReconcileSingleDocument(t *testing.T) {
	check := "1001"
	rec := &mockReconciler{ReconcileBatchFunc: func(_ context.Context, docs []internal.Document) ([][]internal.GroupResult, error) {
		if len(docs) != 1 || docs[0].Name != "scan.pdf" || len(docs[0].Pages) != 2 {
			return nil, fmt.Errorf("unexpected docs: %+v", docs)
		}
		return [][]internal.GroupResult{{
			{
				Group:   internal.PaymentRecord{Ordinal: 1, Label: "check 1001", CheckNumber: &check, SourcePages: []int{0, 1}},
				Matches: []internal.MatchResult{{InvoiceID: "inv-1", InvoiceNumber: "INV-1", MatchScore: 280, MatchReasons: []string{"Exact invoice number match: INV-1"}}},
			},
		}}, nil
	}}
	s := newTestServer(rec, nil, nil)

	body := []byte(`{"name":"scan.pdf","pages":[{"page_index":0,"check_number":"1001","invoice_numbers":[]},{"page_index":1,"invoice_numbers":["INV-1"]}]}`)
	code, env := do(t, s, http.MethodPost, "/api/reconcile", body)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("reconcile: code=%d env=%+v", code, env)
	}

	var data struct {
		Name   string                 `json:"name"`
		Groups []internal.GroupResult `json:"groups"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Name != "scan.pdf" || len(data.Groups) != 1 {
		t.Fatalf("unexpected data: %+v", data)
	}
	g := data.Groups[0]
	if g.Group.Label != "check 1001" || len(g.Matches) != 1 || g.Matches[0].MatchScore != 280 {
		t.Fatalf("unexpected group: %+v", g)
	}
}

func TestReconcileGroupErrorIsReportedInline(t *testing.T) {
	rec := &mockReconciler{ReconcileBatchFunc: func(context.Context, []internal.Document) ([][]internal.GroupResult, error) {
		return [][]internal.GroupResult{{
			{Group: internal.PaymentRecord{Ordinal: 1, Label: "group 1"}, Matches: []internal.MatchResult{}, Error: "ledger unavailable"},
		}}, nil
	}}
	s := newTestServer(rec, nil, nil)

	code, env := do(t, s, http.MethodPost, "/api/reconcile", []byte(`{"name":"a.pdf","pages":[{"page_index":0,"invoice_numbers":[]}]}`))
	if code != http.StatusOK {
		t.Fatalf("expected 200 with inline group error, got %d", code)
	}
	var data struct {
		Groups []internal.GroupResult `json:"groups"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.Groups) != 1 || data.Groups[0].Error != "ledger unavailable" {
		t.Fatalf("unexpected groups: %+v", data.Groups)
	}
}

func TestReconcileErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"precondition", fmt.Errorf("document a.pdf: %w", pipeline.ErrPrecondition), http.StatusBadRequest},
		{"canceled", context.Canceled, statusClientClosedRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockReconciler{ReconcileBatchFunc: func(context.Context, []internal.Document) ([][]internal.GroupResult, error) {
				return nil, tt.err
			}}
			s := newTestServer(rec, nil, nil)
			code, env := do(t, s, http.MethodPost, "/api/reconcile", []byte(`{"name":"a.pdf","pages":[]}`))
			if code != tt.want {
				t.Fatalf("status: got %d want %d", code, tt.want)
			}
			if env.Success || env.Error == "" {
				t.Fatalf("expected error envelope, got %+v", env)
			}
		})
	}
}

func TestReconcileRejectsMalformedBody(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	code, env := do(t, s, http.MethodPost, "/api/reconcile", []byte(`{"name":`))
	if code != http.StatusBadRequest || env.Success {
		t.Fatalf("malformed body: code=%d env=%+v", code, env)
	}
}

func TestReconcileBatch(t *testing.T) {
	rec := &mockReconciler{ReconcileBatchFunc: func(_ context.Context, docs []internal.Document) ([][]internal.GroupResult, error) {
		out := make([][]internal.GroupResult, len(docs))
		for i, d := range docs {
			out[i] = []internal.GroupResult{{Group: internal.PaymentRecord{Ordinal: 1, Label: d.Name}, Matches: []internal.MatchResult{}}}
		}
		return out, nil
	}}
	s := newTestServer(rec, nil, nil)

	body := []byte(`{"documents":[{"name":"a.pdf","pages":[]},{"name":"b.pdf","pages":[]}]}`)
	code, env := do(t, s, http.MethodPost, "/api/reconcile/batch", body)
	if code != http.StatusOK {
		t.Fatalf("batch: code=%d env=%+v", code, env)
	}
	var data struct {
		Documents [][]internal.GroupResult `json:"documents"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.Documents) != 2 || data.Documents[0][0].Group.Label != "a.pdf" || data.Documents[1][0].Group.Label != "b.pdf" {
		t.Fatalf("results out of input order: %+v", data.Documents)
	}

	code, _ = do(t, s, http.MethodPost, "/api/reconcile/batch", []byte(`{"documents":[]}`))
	if code != http.StatusBadRequest {
		t.Fatalf("empty batch: got %d", code)
	}
}

func TestInvoiceSearch(t *testing.T) {
	var got internal.CandidateQuery
	src := &mockSource{SearchInvoicesFunc: func(_ context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
		got = q
		return []internal.InvoiceCandidate{{InvoiceID: "inv-1", InvoiceNumber: "INV-1", CustomerName: "Acme", Amount: 1500}}, nil
	}}
	s := newTestServer(nil, src, nil)

	code, env := do(t, s, http.MethodGet, "/api/invoices/search?invoice_number=INV-1&invoice_number=%20&customer_name=Acme&amount=1,500.00&limit=5", nil)
	if code != http.StatusOK || env.Count != 1 {
		t.Fatalf("search: code=%d env=%+v", code, env)
	}
	if len(got.InvoiceNumbers) != 1 || got.InvoiceNumbers[0] != "INV-1" {
		t.Fatalf("invoice numbers: %v", got.InvoiceNumbers)
	}
	if got.CustomerName == nil || *got.CustomerName != "Acme" {
		t.Fatalf("customer name: %v", got.CustomerName)
	}
	if got.Amount == nil || *got.Amount != 1500 {
		t.Fatalf("amount: %v", got.Amount)
	}
	if got.Limit != 5 {
		t.Fatalf("limit: %d", got.Limit)
	}
}

func TestInvoiceSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		srcErr error
		want   int
	}{
		{"empty query", "/api/invoices/search", nil, http.StatusBadRequest},
		{"bad amount", "/api/invoices/search?amount=abc", nil, http.StatusBadRequest},
		{"bad limit", "/api/invoices/search?customer_name=Acme&limit=-1", nil, http.StatusBadRequest},
		{"invalid query", "/api/invoices/search?customer_name=Acme", fmt.Errorf("wrapped: %w", ledger.ErrInvalidQuery), http.StatusBadRequest},
		{"upstream", "/api/invoices/search?customer_name=Acme", errors.New("ledger down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{SearchInvoicesFunc: func(context.Context, internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
				if tt.srcErr == nil {
					t.Error("source should not be called")
				}
				return nil, tt.srcErr
			}}
			s := newTestServer(nil, src, nil)
			code, env := do(t, s, http.MethodGet, tt.path, nil)
			if code != tt.want || env.Success {
				t.Fatalf("got code=%d env=%+v, want %d", code, env, tt.want)
			}
		})
	}
}

func TestInvoiceLookup(t *testing.T) {
	lookup := func(_ context.Context, id string) (*internal.InvoiceCandidate, error) {
		switch id {
		case "inv-1":
			return &internal.InvoiceCandidate{InvoiceID: "inv-1", InvoiceNumber: "INV-1"}, nil
		case "broken":
			return nil, errors.New("ledger down")
		}
		return nil, nil
	}
	s := newTestServer(nil, nil, lookup)

	code, env := do(t, s, http.MethodGet, "/api/invoices/inv-1", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("found: code=%d env=%+v", code, env)
	}
	var inv internal.InvoiceCandidate
	if err := json.Unmarshal(env.Data, &inv); err != nil || inv.InvoiceNumber != "INV-1" {
		t.Fatalf("decode invoice: %v %+v", err, inv)
	}

	if code, _ := do(t, s, http.MethodGet, "/api/invoices/missing", nil); code != http.StatusNotFound {
		t.Fatalf("missing: got %d", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/api/invoices/broken", nil); code != http.StatusBadGateway {
		t.Fatalf("broken: got %d", code)
	}
}
