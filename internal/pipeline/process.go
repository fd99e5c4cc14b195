package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"remitmatch/internal"
	"remitmatch/internal/config"
	"remitmatch/internal/storage"
)

type ProcessingService struct {
	db         *storage.DB
	cfg        config.Config
	reconciler *Reconciler
	extractor  PageExtractor
	precedence []string
}

func NewProcessingService(db *storage.DB, cfg config.Config, source CandidateSource) *ProcessingService {
	scorer := NewMatchScorer(ScorerConfigFrom(cfg))
	return &ProcessingService{
		db:         db,
		cfg:        cfg,
		reconciler: NewReconciler(source, scorer, ReconcileConfigFrom(cfg)),
		extractor:  PDFTextExtractor{},
		precedence: scorer.NamePrecedence(),
	}
}

// WithExtractor swaps the page extractor, e.g. for an OCR backend.
func (s *ProcessingService) WithExtractor(e PageExtractor) *ProcessingService {
	s.extractor = e
	return s
}

type ProcessResult struct {
	EmailID   int
	TraceID   string
	Documents int
	Groups    int
	Matched   int
	Failed    int
	Degraded  int
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPending reconciles fetched emails; it returns how many emails and
// payment groups were processed. An email that fails is marked "failed" and
// the batch moves on; only a cancelled ctx stops it early.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, int, error) {
	pending, err := s.db.ListEmailsByStatus("fetched", limit)
	if err != nil {
		return 0, 0, err
	}
	processedEmails := 0
	processedGroups := 0
	for _, email := range pending {
		if provider != "" && email.Provider != provider {
			continue
		}
		res, err := s.ProcessEmail(ctx, email)
		if err != nil {
			if aborted(ctx, err) {
				return processedEmails, processedGroups, err
			}
			fmt.Printf("process email failed id=%d messageId=%s err=%v\n", email.ID, email.MessageID, err)
			continue
		}
		processedEmails++
		processedGroups += res.Groups
	}
	return processedEmails, processedGroups, nil
}

// ProcessEmail reconciles one stored email and replaces its stored results.
// A failure marks the email "failed" with an error run. An aborted ctx leaves
// the email and its earlier results untouched so the next run picks it up.
func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	start := time.Now()
	trace := uuid.NewString()
	res, err := s.processEmail(ctx, email, trace, start)
	if err == nil || aborted(ctx, err) {
		return res, err
	}

	_ = s.db.UpdateEmailStatus(email.ID, "failed")
	_ = s.db.InsertRun(trace, email.ID, map[string]float64{"totalMs": msSince(start)}, map[string]int{}, err)
	return ProcessResult{}, fmt.Errorf("process email %d: %w", email.ID, err)
}

func (s *ProcessingService) processEmail(ctx context.Context, email internal.EmailRow, trace string, start time.Time) (ProcessResult, error) {
	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}

	extraction, err := ExtractDocumentsFromEmailRaw(raw, s.extractor)
	if err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{EmailID: email.ID, TraceID: trace}
	detect := DetectRemittance(firstNonEmpty(extraction.Subject, email.Subject), extraction.Text, extraction.Attachments)
	if !detect.IsRemittance || len(extraction.Documents) == 0 {
		if err := s.db.ReplaceEmailResults(email.ID, nil, nil); err != nil {
			return ProcessResult{}, err
		}
		_ = s.db.UpdateEmailStatus(email.ID, "skipped")
		_ = s.db.InsertRun(trace, email.ID, map[string]float64{"totalMs": msSince(start)}, map[string]int{"documents": 0, "groups": 0}, nil)
		return res, nil
	}

	extractDone := time.Now()
	batch, err := s.reconciler.ReconcileBatch(ctx, extraction.Documents)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("reconcile: %w", err)
	}

	docs := make([]storage.DocumentResults, len(batch))
	res.Documents = len(batch)
	for i, results := range batch {
		docs[i] = storage.DocumentResults{Document: extraction.Documents[i].Name, Results: results}
		for _, r := range results {
			res.Groups++
			switch {
			case r.Err != nil:
				res.Failed++
			case len(r.Matches) > 0:
				res.Matched++
			}
			if r.Group.Degraded {
				res.Degraded++
			}
		}
	}
	if err := s.db.ReplaceEmailResults(email.ID, docs, s.customerOf); err != nil {
		return ProcessResult{}, err
	}

	if err := s.db.UpdateEmailStatus(email.ID, "processed"); err != nil {
		return ProcessResult{}, err
	}
	_ = s.db.InsertRun(trace, email.ID,
		map[string]float64{"extractMs": float64(extractDone.Sub(start).Milliseconds()), "totalMs": msSince(start)},
		map[string]int{"documents": res.Documents, "groups": res.Groups, "matched": res.Matched, "failed": res.Failed, "degraded": res.Degraded},
		nil,
	)
	return res, nil
}

func (s *ProcessingService) customerOf(g internal.PaymentRecord) *string {
	return ResolveName(g, s.precedence)
}

// aborted reports whether err comes from the caller giving up rather than
// from the email itself.
func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Milliseconds())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
