package pipeline

import (
	"fmt"
	"math"
	"strings"

	"remitmatch/internal"
	"remitmatch/internal/config"
	"remitmatch/internal/util"
)

const (
	FieldCustomerName = "customer_name"
	FieldPayorName    = "payor_name"
)

// ScorerConfig holds every weight and tolerance the scorer uses.
type ScorerConfig struct {
	InvoiceWeight float64
	NameWeight    float64
	AmountWeight  float64

	// NameFloor is the similarity a name must exceed to be cited as a reason.
	NameFloor float64

	// Relative amount differences up to AmountExactTolerance score the full
	// weight; the score then falls linearly to zero at AmountBandTolerance.
	AmountExactTolerance float64
	AmountBandTolerance  float64
	AmountEpsilon        float64

	// NamePrecedence lists the payment name fields tried, in order.
	NamePrecedence []string
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		InvoiceWeight:        100,
		NameWeight:           80,
		AmountWeight:         100,
		NameFloor:            0.5,
		AmountExactTolerance: 0.001,
		AmountBandTolerance:  0.05,
		AmountEpsilon:        0.01,
		NamePrecedence:       []string{FieldCustomerName, FieldPayorName},
	}
}

func ScorerConfigFrom(cfg config.Config) ScorerConfig {
	sc := DefaultScorerConfig()
	sc.InvoiceWeight = cfg.MatchInvoiceWeight
	sc.NameWeight = cfg.MatchNameWeight
	sc.AmountWeight = cfg.MatchAmountWeight
	sc.NameFloor = cfg.MatchNameFloor
	sc.AmountExactTolerance = cfg.MatchAmountExactTol
	sc.AmountBandTolerance = cfg.MatchAmountBandTol
	if len(cfg.MatchNamePrecedence) > 0 {
		sc.NamePrecedence = cfg.MatchNamePrecedence
	}
	return sc
}

// Scorer rates one candidate invoice against one payment. Implementations
// must be pure.
type Scorer interface {
	Score(payment internal.PaymentRecord, candidate internal.InvoiceCandidate) internal.MatchResult
}

// MatchScorer sums three independent signals: exact invoice number, customer
// name similarity and amount closeness. Scores are not normalized, so two
// strong signals together outrank any single one.
type MatchScorer struct {
	cfg ScorerConfig
}

func NewMatchScorer(cfg ScorerConfig) *MatchScorer {
	return &MatchScorer{cfg: cfg}
}

// NamePrecedence is the order of payment name fields the scorer compares.
func (s *MatchScorer) NamePrecedence() []string {
	return s.cfg.NamePrecedence
}

func (s *MatchScorer) Score(payment internal.PaymentRecord, candidate internal.InvoiceCandidate) internal.MatchResult {
	result := internal.MatchResult{
		InvoiceID:     candidate.InvoiceID,
		InvoiceNumber: candidate.InvoiceNumber,
		CustomerName:  candidate.CustomerName,
		Amount:        candidate.Amount,
		DueDate:       candidate.DueDate,
		Subsidiary:    candidate.Subsidiary,
		MatchReasons:  []string{},
	}

	if score, reason := s.invoiceScore(payment, candidate); score > 0 {
		result.MatchScore += score
		result.MatchReasons = append(result.MatchReasons, reason)
	}
	if score, ratio := s.nameScore(payment, candidate); score > 0 {
		result.MatchScore += score
		if ratio > s.cfg.NameFloor {
			result.MatchReasons = append(result.MatchReasons, fmt.Sprintf("Customer name match: %s (similarity: %.2f)", candidate.CustomerName, ratio))
		}
	}
	if score, reason := s.amountScore(payment, candidate); score > 0 {
		result.MatchScore += score
		result.MatchReasons = append(result.MatchReasons, reason)
	}
	return result
}

func (s *MatchScorer) invoiceScore(payment internal.PaymentRecord, candidate internal.InvoiceCandidate) (float64, string) {
	target := util.NormalizeInvoiceNumber(candidate.InvoiceNumber)
	if target == "" {
		return 0, ""
	}
	for _, number := range payment.InvoiceNumbers {
		if util.NormalizeInvoiceNumber(number) == target {
			return s.cfg.InvoiceWeight, "Exact invoice number match: " + strings.TrimSpace(number)
		}
	}
	return 0, ""
}

func (s *MatchScorer) nameScore(payment internal.PaymentRecord, candidate internal.InvoiceCandidate) (float64, float64) {
	name := ResolveName(payment, s.cfg.NamePrecedence)
	if name == nil || strings.TrimSpace(candidate.CustomerName) == "" {
		return 0, 0
	}
	ratio := util.NameSimilarity(*name, candidate.CustomerName)
	return ratio * s.cfg.NameWeight, ratio
}

func (s *MatchScorer) amountScore(payment internal.PaymentRecord, candidate internal.InvoiceCandidate) (float64, string) {
	if payment.Amount == nil {
		return 0, ""
	}
	d := RelativeAmountDiff(*payment.Amount, candidate.Amount, s.cfg.AmountEpsilon)

	if d <= s.cfg.AmountExactTolerance {
		return s.cfg.AmountWeight, fmt.Sprintf("Exact amount match: %.2f", candidate.Amount)
	}
	band := s.cfg.AmountBandTolerance - s.cfg.AmountExactTolerance
	if band <= 0 || d > s.cfg.AmountBandTolerance {
		return 0, ""
	}
	score := s.cfg.AmountWeight * (1 - (d-s.cfg.AmountExactTolerance)/band)
	score = math.Max(0, math.Min(s.cfg.AmountWeight, score))
	if score == 0 {
		return 0, ""
	}
	return score, fmt.Sprintf("Approximate amount match: %.2f (diff: %.2f%%)", candidate.Amount, d*100)
}

// RelativeAmountDiff is |paid - invoiced| relative to the invoiced amount,
// with epsilon guarding zero-value invoices.
func RelativeAmountDiff(paid, invoiced, epsilon float64) float64 {
	if epsilon <= 0 {
		epsilon = 0.01
	}
	return math.Abs(paid-invoiced) / math.Max(math.Abs(invoiced), epsilon)
}

// ResolveName walks the precedence list and returns the first name present.
func ResolveName(payment internal.PaymentRecord, precedence []string) *string {
	for _, field := range precedence {
		var v *string
		switch strings.ToLower(strings.TrimSpace(field)) {
		case FieldCustomerName:
			v = payment.CustomerName
		case FieldPayorName:
			v = payment.PayorName
		}
		if v != nil && strings.TrimSpace(*v) != "" {
			return v
		}
	}
	return nil
}
