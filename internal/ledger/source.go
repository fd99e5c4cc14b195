package ledger

import (
	"context"

	"remitmatch/internal"
	"remitmatch/internal/retry"
)

// Searcher is anything that can answer a candidate query.
type Searcher interface {
	SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error)
}

type LocalOptions struct {
	NumberLimit   int
	CustomerLimit int
	AmountLimit   int
	MinSimilarity float64
	AmountAbsTol  float64
	AmountRelTol  float64
}

func DefaultLocalOptions() LocalOptions {
	return LocalOptions{
		NumberLimit:   20,
		CustomerLimit: 50,
		AmountLimit:   20,
		MinSimilarity: 0.5,
		AmountAbsTol:  0.01,
		AmountRelTol:  0.05,
	}
}

// LocalSource answers queries from an in-memory index of the cached ledger.
type LocalSource struct {
	index *Index
	opts  LocalOptions
}

func NewLocalSource(invoices []internal.InvoiceCandidate, opts LocalOptions) *LocalSource {
	return &LocalSource{index: BuildIndex(invoices), opts: opts}
}

func (s *LocalSource) Get(invoiceID string) (internal.InvoiceCandidate, bool) {
	inv, ok := s.index.InvoicesByID[invoiceID]
	return inv, ok
}

func (s *LocalSource) SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
	if q.IsEmpty() {
		return nil, retry.Permanent(ErrInvalidQuery)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	out := []internal.InvoiceCandidate{}
	add := func(invoices []internal.InvoiceCandidate) {
		for _, inv := range invoices {
			if _, ok := seen[inv.InvoiceID]; ok {
				continue
			}
			seen[inv.InvoiceID] = struct{}{}
			out = append(out, inv)
		}
	}

	for _, number := range q.InvoiceNumbers {
		add(s.index.ByInvoiceNumber(number, s.opts.NumberLimit))
	}
	if q.CustomerName != nil {
		add(s.index.ByCustomer(*q.CustomerName, s.opts.MinSimilarity, s.opts.CustomerLimit))
	}
	if q.Amount != nil {
		add(s.index.ByAmount(*q.Amount, s.opts.AmountAbsTol, s.opts.AmountRelTol, s.opts.AmountLimit))
	}

	return capCandidates(out, q.Limit), nil
}

// FallbackSource asks Primary first and Secondary when Primary fails or
// finds nothing. Primary's error surfaces only if Secondary cannot help.
type FallbackSource struct {
	Primary   Searcher
	Secondary Searcher
}

func (f FallbackSource) SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error) {
	primary, primaryErr := f.Primary.SearchInvoices(ctx, q)
	if primaryErr == nil && len(primary) > 0 {
		return primary, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Secondary == nil {
		return primary, primaryErr
	}

	secondary, secondaryErr := f.Secondary.SearchInvoices(ctx, q)
	if secondaryErr != nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return nil, secondaryErr
	}
	if len(secondary) == 0 && primaryErr != nil {
		return nil, primaryErr
	}
	return secondary, nil
}
