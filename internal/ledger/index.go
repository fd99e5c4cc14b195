package ledger

import (
	"math"
	"sort"
	"strings"

	"remitmatch/internal"
	"remitmatch/internal/util"
)

type Index struct {
	InvoicesByID       map[string]internal.InvoiceCandidate
	ByNumber           map[string][]internal.InvoiceCandidate
	TokenToInvoiceIDs  map[string]map[string]struct{}
	NormalizedNameByID map[string]string
	order              []string
}

func BuildIndex(invoices []internal.InvoiceCandidate) *Index {
	idx := &Index{
		InvoicesByID:       map[string]internal.InvoiceCandidate{},
		ByNumber:           map[string][]internal.InvoiceCandidate{},
		TokenToInvoiceIDs:  map[string]map[string]struct{}{},
		NormalizedNameByID: map[string]string{},
	}

	for _, inv := range invoices {
		if _, dup := idx.InvoicesByID[inv.InvoiceID]; dup {
			continue
		}
		idx.InvoicesByID[inv.InvoiceID] = inv
		idx.order = append(idx.order, inv.InvoiceID)

		number := util.NormalizeInvoiceNumber(inv.InvoiceNumber)
		if number != "" {
			idx.ByNumber[number] = append(idx.ByNumber[number], inv)
		}

		idx.NormalizedNameByID[inv.InvoiceID] = util.NormalizeName(inv.CustomerName)
		for _, token := range util.Tokenize(inv.CustomerName) {
			if _, ok := idx.TokenToInvoiceIDs[token]; !ok {
				idx.TokenToInvoiceIDs[token] = map[string]struct{}{}
			}
			idx.TokenToInvoiceIDs[token][inv.InvoiceID] = struct{}{}
		}
	}

	return idx
}

func (idx *Index) Len() int { return len(idx.order) }

// ByInvoiceNumber returns exact matches first, then invoices whose number
// contains the term or is contained in it.
func (idx *Index) ByInvoiceNumber(term string, limit int) []internal.InvoiceCandidate {
	norm := util.NormalizeInvoiceNumber(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(term)), "INVOICE #"))
	if norm == "" {
		return nil
	}
	out := append([]internal.InvoiceCandidate(nil), idx.ByNumber[norm]...)
	if len(norm) < 3 {
		return capCandidates(out, limit)
	}
	for _, id := range idx.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		inv := idx.InvoicesByID[id]
		number := util.NormalizeInvoiceNumber(inv.InvoiceNumber)
		if number == norm || number == "" {
			continue
		}
		if strings.Contains(number, norm) || strings.Contains(norm, number) {
			out = append(out, inv)
		}
	}
	return capCandidates(out, limit)
}

// ByCustomer ranks invoices by customer name: exact 1.0, containment 0.8,
// otherwise fuzzy similarity above minSimilarity.
func (idx *Index) ByCustomer(name string, minSimilarity float64, limit int) []internal.InvoiceCandidate {
	query := util.NormalizeName(name)
	if query == "" {
		return nil
	}

	type scored struct {
		score float64
		pos   int
		inv   internal.InvoiceCandidate
	}
	var hits []scored
	for pos, id := range idx.order {
		candidate := idx.NormalizedNameByID[id]
		if candidate == "" {
			continue
		}
		var score float64
		switch {
		case candidate == query:
			score = 1
		case strings.Contains(candidate, query) || strings.Contains(query, candidate):
			score = 0.8
		default:
			score = util.NameSimilarity(query, candidate)
			if score <= minSimilarity {
				continue
			}
		}
		hits = append(hits, scored{score: score, pos: pos, inv: idx.InvoicesByID[id]})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].pos < hits[j].pos
	})
	out := make([]internal.InvoiceCandidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.inv)
	}
	return capCandidates(out, limit)
}

// ByAmount returns invoices whose amount lies within the absolute tolerance or
// the relative band around amount, whichever is wider.
func (idx *Index) ByAmount(amount, absTol, relTol float64, limit int) []internal.InvoiceCandidate {
	tol := math.Max(absTol, math.Abs(amount)*relTol)
	out := []internal.InvoiceCandidate{}
	for _, id := range idx.order {
		inv := idx.InvoicesByID[id]
		if inv.Amount == 0 {
			continue
		}
		if math.Abs(inv.Amount-amount) <= tol {
			out = append(out, inv)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

func capCandidates(in []internal.InvoiceCandidate, limit int) []internal.InvoiceCandidate {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
