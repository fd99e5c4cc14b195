package pipeline

import (
	"math"
	"strings"
	"testing"

	"remitmatch/internal"
)

func scenarioPayment() internal.PaymentRecord {
	return internal.PaymentRecord{
		Amount:         fltp(1500),
		InvoiceNumbers: []string{"INV-2024-001"},
		CustomerName:   strp("Acme Corp"),
	}
}

func TestMatchScorerScenario(t *testing.T) {
	s := NewMatchScorer(DefaultScorerConfig())
	p := scenarioPayment()

	exact := s.Score(p, internal.InvoiceCandidate{InvoiceID: "1", InvoiceNumber: "INV-2024-001", CustomerName: "Acme Corp", Amount: 1500})
	if math.Abs(exact.MatchScore-280) > 1e-9 {
		t.Fatalf("exact score=%v", exact.MatchScore)
	}
	if len(exact.MatchReasons) != 3 {
		t.Fatalf("reasons=%v", exact.MatchReasons)
	}
	if exact.MatchReasons[0] != "Exact invoice number match: INV-2024-001" {
		t.Fatalf("reason=%q", exact.MatchReasons[0])
	}
	if exact.MatchReasons[2] != "Exact amount match: 1500.00" {
		t.Fatalf("reason=%q", exact.MatchReasons[2])
	}

	near := s.Score(p, internal.InvoiceCandidate{InvoiceID: "2", InvoiceNumber: "INV-2024-002", CustomerName: "Acme Co", Amount: 1502})
	if near.MatchScore >= exact.MatchScore-50 {
		t.Fatalf("near score=%v not markedly lower than %v", near.MatchScore, exact.MatchScore)
	}
	if near.MatchScore <= 100 {
		t.Fatalf("near score=%v should survive the default threshold", near.MatchScore)
	}
	for _, r := range near.MatchReasons {
		if strings.HasPrefix(r, "Exact invoice") {
			t.Fatalf("unexpected reason %q", r)
		}
	}
	if !strings.HasPrefix(near.MatchReasons[len(near.MatchReasons)-1], "Approximate amount match: 1502.00") {
		t.Fatalf("reasons=%v", near.MatchReasons)
	}
}

func TestMatchScorerAmountMonotonic(t *testing.T) {
	s := NewMatchScorer(DefaultScorerConfig())
	p := scenarioPayment()
	cand := internal.InvoiceCandidate{InvoiceID: "1", InvoiceNumber: "INV-2024-001", CustomerName: "Acme Corp"}

	prev := math.Inf(1)
	for _, amount := range []float64{1500, 1500.5, 1501, 1510, 1530, 1560, 1575, 1580, 2000} {
		cand.Amount = amount
		got := s.Score(p, cand).MatchScore
		if got > prev {
			t.Fatalf("score rose to %v at amount %v", got, amount)
		}
		prev = got
	}

	cand.Amount = 1500 * 1.2
	if got := s.Score(p, cand).MatchScore; math.Abs(got-180) > 1e-9 {
		t.Fatalf("beyond band score=%v want 180", got)
	}
}

func TestMatchScorerExactInvoiceBeatsNoInvoice(t *testing.T) {
	s := NewMatchScorer(DefaultScorerConfig())
	p := scenarioPayment()
	a := s.Score(p, internal.InvoiceCandidate{InvoiceID: "1", InvoiceNumber: " inv-2024-001 ", CustomerName: "Beta LLC", Amount: 900})
	b := s.Score(p, internal.InvoiceCandidate{InvoiceID: "2", InvoiceNumber: "INV-2024-009", CustomerName: "Beta LLC", Amount: 900})
	if a.MatchScore <= b.MatchScore {
		t.Fatalf("exact=%v other=%v", a.MatchScore, b.MatchScore)
	}
}

func TestMatchScorerMissingFields(t *testing.T) {
	s := NewMatchScorer(DefaultScorerConfig())
	got := s.Score(internal.PaymentRecord{}, internal.InvoiceCandidate{InvoiceID: "1", Amount: 10})
	if got.MatchScore != 0 || len(got.MatchReasons) != 0 {
		t.Fatalf("got=%+v", got)
	}
	if got.MatchReasons == nil {
		t.Fatal("reasons should be an empty list")
	}
}

func TestMatchScorerNameFloorHidesReason(t *testing.T) {
	s := NewMatchScorer(DefaultScorerConfig())
	got := s.Score(internal.PaymentRecord{CustomerName: strp("Acme Corp")}, internal.InvoiceCandidate{InvoiceID: "1", CustomerName: "Zeta Holdings"})
	if len(got.MatchReasons) != 0 {
		t.Fatalf("reasons=%v", got.MatchReasons)
	}
}

func TestResolveNamePrecedence(t *testing.T) {
	p := internal.PaymentRecord{PayorName: strp("Payor Inc"), CustomerName: strp("Customer Inc")}
	if got := ResolveName(p, []string{FieldCustomerName, FieldPayorName}); got == nil || *got != "Customer Inc" {
		t.Fatalf("got=%v", got)
	}
	if got := ResolveName(p, []string{FieldPayorName, FieldCustomerName}); got == nil || *got != "Payor Inc" {
		t.Fatalf("got=%v", got)
	}
	p.CustomerName = nil
	if got := ResolveName(p, []string{FieldCustomerName, FieldPayorName}); got == nil || *got != "Payor Inc" {
		t.Fatalf("fallback got=%v", got)
	}
	if got := ResolveName(p, []string{FieldCustomerName}); got != nil {
		t.Fatalf("got=%v", *got)
	}
}

func TestMatchScorerCustomWeights(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.InvoiceWeight = 10
	cfg.NameWeight = 0
	cfg.AmountWeight = 1
	s := NewMatchScorer(cfg)
	got := s.Score(scenarioPayment(), internal.InvoiceCandidate{InvoiceID: "1", InvoiceNumber: "INV-2024-001", CustomerName: "Acme Corp", Amount: 1500})
	if math.Abs(got.MatchScore-11) > 1e-9 {
		t.Fatalf("score=%v", got.MatchScore)
	}
}
