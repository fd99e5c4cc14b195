package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"remitmatch/internal"
	"remitmatch/internal/config"
	"remitmatch/internal/retry"
	"remitmatch/internal/util"
)

// CandidateSource answers invoice candidate queries. Failures wrapped with
// retry.Permanent are not retried.
type CandidateSource interface {
	SearchInvoices(ctx context.Context, q internal.CandidateQuery) ([]internal.InvoiceCandidate, error)
}

type ReconcileConfig struct {
	MinScore    float64
	MaxResults  int
	Concurrency int
	QueryLimit  int
	Retry       retry.Policy
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MinScore:    100,
		MaxResults:  20,
		Concurrency: 4,
		QueryLimit:  50,
		Retry: retry.Policy{
			Attempts:       3,
			BaseDelay:      200 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			AttemptTimeout: 10 * time.Second,
		},
	}
}

func ReconcileConfigFrom(cfg config.Config) ReconcileConfig {
	rc := DefaultReconcileConfig()
	rc.MinScore = cfg.MatchMinScore
	rc.MaxResults = cfg.MatchMaxResults
	rc.Concurrency = cfg.ReconcileConcurrency
	rc.QueryLimit = cfg.LedgerSearchLimit
	rc.Retry.Attempts = cfg.CandidateRetries
	rc.Retry.BaseDelay = time.Duration(cfg.CandidateBackoffMs) * time.Millisecond
	rc.Retry.AttemptTimeout = time.Duration(cfg.CandidateTimeoutMs) * time.Millisecond
	return rc
}

type Reconciler struct {
	source     CandidateSource
	scorer     Scorer
	cfg        ReconcileConfig
	precedence []string
}

// NewReconciler queries candidates by the same name the scorer scores: the
// scorer's precedence when it exposes one, the default order otherwise.
func NewReconciler(source CandidateSource, scorer Scorer, cfg ReconcileConfig) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Reconciler{source: source, scorer: scorer, cfg: cfg, precedence: NamePrecedenceOf(scorer)}
}

// NamePrecedenceOf returns the name fields scorer resolves, in order.
func NamePrecedenceOf(scorer Scorer) []string {
	if p, ok := scorer.(interface{ NamePrecedence() []string }); ok {
		if order := p.NamePrecedence(); len(order) > 0 {
			return order
		}
	}
	return DefaultScorerConfig().NamePrecedence
}

// Reconcile groups one document's pages and ranks candidates for each group.
func (r *Reconciler) Reconcile(ctx context.Context, doc internal.Document) ([]internal.GroupResult, error) {
	out, err := r.ReconcileBatch(ctx, []internal.Document{doc})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ReconcileBatch reconciles independent documents, returning one result list
// per document in input order. A lookup failure is reported on its group only;
// a precondition violation in any document or a cancelled ctx fails the whole
// call with no partial results.
func (r *Reconciler) ReconcileBatch(ctx context.Context, docs []internal.Document) ([][]internal.GroupResult, error) {
	out := make([][]internal.GroupResult, len(docs))
	for i, doc := range docs {
		groups, err := GroupDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i, doc.Name, err)
		}
		out[i] = make([]internal.GroupResult, len(groups))
		for j, g := range groups {
			out[i][j] = internal.GroupResult{Group: g, Matches: []internal.MatchResult{}}
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.Concurrency)
	for i := range out {
		for j := range out[i] {
			slot := &out[i][j]
			eg.Go(func() error {
				if egCtx.Err() != nil {
					return nil
				}
				matches, err := r.reconcileGroup(egCtx, slot.Group)
				if err != nil {
					slot.Err = err
					slot.Error = err.Error()
					return nil
				}
				slot.Matches = matches
				return nil
			})
		}
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) reconcileGroup(ctx context.Context, group internal.PaymentRecord) ([]internal.MatchResult, error) {
	q := BuildQuery(group, r.precedence, r.cfg.QueryLimit)
	if q.IsEmpty() {
		return []internal.MatchResult{}, nil
	}

	var candidates []internal.InvoiceCandidate
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		found, err := r.source.SearchInvoices(ctx, q)
		if err != nil {
			return err
		}
		candidates = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("candidate lookup for %s: %w", group.Label, err)
	}
	return Rank(group, candidates, r.scorer, r.cfg.MinScore, r.cfg.MaxResults), nil
}

// BuildQuery turns a payment group into a candidate query using whatever
// fields were extracted.
func BuildQuery(group internal.PaymentRecord, precedence []string, limit int) internal.CandidateQuery {
	q := internal.CandidateQuery{Limit: limit}
	q.InvoiceNumbers = append(q.InvoiceNumbers, group.InvoiceNumbers...)
	if name := ResolveName(group, precedence); name != nil {
		q.CustomerName = util.StringPtr(*name)
	}
	if group.Amount != nil {
		q.Amount = util.FloatPtr(*group.Amount)
	}
	return q
}

// Rank dedupes candidates by invoice id, scores them, keeps scores strictly
// above minScore and returns at most maxResults, best first. Ties sort by
// invoice number, then invoice id.
func Rank(group internal.PaymentRecord, candidates []internal.InvoiceCandidate, scorer Scorer, minScore float64, maxResults int) []internal.MatchResult {
	seen := make(map[string]struct{}, len(candidates))
	results := make([]internal.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.InvoiceID]; dup {
			continue
		}
		seen[c.InvoiceID] = struct{}{}

		m := scorer.Score(group, c)
		if m.MatchScore <= minScore {
			continue
		}
		results = append(results, m)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.InvoiceNumber != b.InvoiceNumber {
			return a.InvoiceNumber < b.InvoiceNumber
		}
		return a.InvoiceID < b.InvoiceID
	})

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
