package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"remitmatch/internal"
	"remitmatch/internal/util"
)

// ErrPrecondition marks caller bugs (out-of-order pages, negative amounts).
// It fails the whole request.
var ErrPrecondition = errors.New("precondition violated")

// ValidateDocument checks the caller contract: page indices are non-negative
// and strictly increasing, failed pages do not collide with extracted ones,
// and amounts are finite and non-negative.
func ValidateDocument(doc internal.Document) error {
	failed := map[int]struct{}{}
	for _, f := range doc.Failures {
		if f.PageIndex < 0 {
			return fmt.Errorf("%w: failed page has negative page_index %d", ErrPrecondition, f.PageIndex)
		}
		if _, dup := failed[f.PageIndex]; dup {
			return fmt.Errorf("%w: page %d reported as failed twice", ErrPrecondition, f.PageIndex)
		}
		failed[f.PageIndex] = struct{}{}
	}

	last := -1
	for pos, page := range doc.Pages {
		if page.PageIndex < 0 {
			return fmt.Errorf("%w: page at position %d has negative page_index %d", ErrPrecondition, pos, page.PageIndex)
		}
		if page.PageIndex <= last {
			return fmt.Errorf("%w: page_index %d follows %d", ErrPrecondition, page.PageIndex, last)
		}
		if _, ok := failed[page.PageIndex]; ok {
			return fmt.Errorf("%w: page %d is both extracted and failed", ErrPrecondition, page.PageIndex)
		}
		if page.Amount != nil && (*page.Amount < 0 || math.IsNaN(*page.Amount) || math.IsInf(*page.Amount, 0)) {
			return fmt.Errorf("%w: page %d has invalid amount %v", ErrPrecondition, page.PageIndex, *page.Amount)
		}
		last = page.PageIndex
	}
	return nil
}

type groupBuilder struct {
	rec      internal.PaymentRecord
	invoices map[string]struct{}
}

func newGroupBuilder() *groupBuilder {
	return &groupBuilder{
		rec:      internal.PaymentRecord{InvoiceNumbers: []string{}, SourcePages: []int{}},
		invoices: map[string]struct{}{},
	}
}

func (b *groupBuilder) merge(page internal.PageExtractionRecord) {
	r := &b.rec
	r.SourcePages = append(r.SourcePages, page.PageIndex)
	if r.CheckNumber == nil {
		r.CheckNumber = checkToken(page.CheckNumber)
	}
	if r.Amount == nil && page.Amount != nil {
		r.Amount = util.FloatPtr(*page.Amount)
	}
	if r.Date == nil {
		r.Date = nonBlank(page.Date)
	}
	if r.PayorName == nil {
		r.PayorName = nonBlank(page.PayorName)
	}
	if r.CustomerName == nil {
		r.CustomerName = nonBlank(page.CustomerName)
	}
	for _, number := range page.InvoiceNumbers {
		key := util.NormalizeInvoiceNumber(number)
		if key == "" {
			continue
		}
		if _, seen := b.invoices[key]; seen {
			continue
		}
		b.invoices[key] = struct{}{}
		r.InvoiceNumbers = append(r.InvoiceNumbers, strings.TrimSpace(number))
	}
}

func (b *groupBuilder) drop(f internal.PageFailure) {
	b.rec.Degraded = true
	b.rec.DroppedPages = append(b.rec.DroppedPages, f.PageIndex)
	reason := strings.TrimSpace(f.Reason)
	if reason == "" {
		reason = "extraction failed"
	}
	b.rec.Notes = append(b.rec.Notes, fmt.Sprintf("page %d dropped: %s", f.PageIndex, reason))
}

// GroupDocument validates doc and splits its pages into one payment record
// per check.
//
// A page opens a new group only when its check number differs from the one
// already resolved for the open group; pages without a check number continue
// the open group. A check number that comes back after a different one starts
// a new group; groups are never merged across a gap. Check numbers compare as
// exact, case-sensitive tokens.
//
// Failed pages are skipped. The group open when a failed index is reached, or
// the first group for leading failures, is marked degraded. A document with
// no extracted pages yields no groups, or a single empty degraded group when
// pages failed.
func GroupDocument(doc internal.Document) ([]internal.PaymentRecord, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	failures := append([]internal.PageFailure(nil), doc.Failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].PageIndex < failures[j].PageIndex })

	var groups []*groupBuilder
	var current *groupBuilder
	var pending []internal.PageFailure
	fi := 0

	flushFailures := func(before int) {
		for fi < len(failures) && failures[fi].PageIndex < before {
			if current == nil {
				pending = append(pending, failures[fi])
			} else {
				current.drop(failures[fi])
			}
			fi++
		}
	}

	for _, page := range doc.Pages {
		flushFailures(page.PageIndex)

		check := checkToken(page.CheckNumber)
		if current == nil || (check != nil && current.rec.CheckNumber != nil && *check != *current.rec.CheckNumber) {
			current = newGroupBuilder()
			groups = append(groups, current)
			for _, f := range pending {
				current.drop(f)
			}
			pending = nil
		}
		current.merge(page)
	}
	flushFailures(math.MaxInt)
	if current == nil && len(pending) > 0 {
		// Every page failed: keep one empty group so the drops are reported.
		current = newGroupBuilder()
		groups = append(groups, current)
		for _, f := range pending {
			current.drop(f)
		}
	}

	out := make([]internal.PaymentRecord, 0, len(groups))
	for i, b := range groups {
		rec := b.rec
		rec.Ordinal = i + 1
		rec.Label = GroupLabel(rec)
		out = append(out, rec)
	}
	return out, nil
}

// GroupLabel names a group by its check number, or by its ordinal when no
// page carried one.
func GroupLabel(rec internal.PaymentRecord) string {
	if rec.CheckNumber != nil {
		return "check " + *rec.CheckNumber
	}
	return fmt.Sprintf("group %d", rec.Ordinal)
}

func checkToken(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return util.StringPtr(*v)
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return util.StringPtr(s)
}
