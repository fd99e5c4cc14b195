package pipeline

import (
	"regexp"
	"strings"
)

type DetectResult struct {
	IsRemittance bool
	Score        float64
	Reason       string
}

var (
	detectKeywords = []string{"remittance", "payment", "check", "cheque", "lockbox", "paid", "invoice", "remit", "deposit", "advice"}
	reMoney        = regexp.MustCompile(`\$\s*\d|\d+\.\d{2}\b`)
)

// DetectRemittance scores a message with keyword and attachment rules and
// decides whether it carries a payment worth reconciling.
func DetectRemittance(subject, text string, attachmentNames []string) DetectResult {
	subject = strings.ToLower(subject)
	text = strings.ToLower(text)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}

	moneyHits := len(reMoney.FindAllStringIndex(text, -1))
	if moneyHits >= 2 {
		score += 0.3
	} else if moneyHits == 1 {
		score += 0.15
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".pdf") || strings.HasSuffix(ln, ".xlsx") || strings.HasSuffix(ln, ".xlsm") {
			score += 0.25
			break
		}
	}
	if score > 1 {
		score = 1
	}

	isRemittance := score >= 0.45
	reason := "rules_negative"
	if isRemittance {
		reason = "rules_positive"
	}
	return DetectResult{IsRemittance: isRemittance, Score: score, Reason: reason}
}
