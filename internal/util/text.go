package util

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reSpaces = regexp.MustCompile(`\s+`)

	invoiceStopwords = map[string]struct{}{
		"S": {}, "NUMBERS": {}, "NUMBER": {}, "INV": {}, "INVOICE": {}, "FOR": {}, "THE": {}, "AND": {}, "OR": {},
	}
)

// NormalizeName case-folds a party name and turns punctuation into spaces so
// "ACME, Corp." and "acme corp" compare equal.
func NormalizeName(input string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(input) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '\'' || r == '’' {
			continue
		}
		b.WriteRune(' ')
	}
	return strings.TrimSpace(reSpaces.ReplaceAllString(b.String(), " "))
}

func NormalizeInvoiceNumber(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

func Tokenize(input string) []string {
	norm := NormalizeName(input)
	if norm == "" {
		return nil
	}
	parts := strings.Split(norm, " ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

// LooksLikeInvoiceNumber filters tokens picked up by loose invoice patterns.
func LooksLikeInvoiceNumber(input string) bool {
	s := strings.ToUpper(strings.TrimSpace(input))
	if len(s) < 3 || strings.HasPrefix(s, "-") {
		return false
	}
	if _, stop := invoiceStopwords[s]; stop {
		return false
	}
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '-' {
			return true
		}
	}
	return false
}

// NameSimilarity returns a ratio in [0,1] blending character bigram overlap
// with whole-token overlap of the normalized names.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	dice := DiceCoefficient(na, nb)
	ta, tb := Tokenize(na), Tokenize(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return dice
	}

	set := map[string]struct{}{}
	for _, t := range tb {
		set[t] = struct{}{}
	}
	overlap := 0
	for _, t := range ta {
		if _, ok := set[t]; ok {
			overlap++
		}
	}
	denom := len(ta)
	if len(tb) > denom {
		denom = len(tb)
	}
	tokenScore := float64(overlap) / float64(denom)
	return 0.65*dice + 0.35*tokenScore
}

func DiceCoefficient(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	pairs := func(s string) []string {
		r := []rune(s)
		if len(r) < 2 {
			return nil
		}
		out := make([]string, 0, len(r)-1)
		for i := 0; i < len(r)-1; i++ {
			out = append(out, string(r[i:i+2]))
		}
		return out
	}

	aPairs := pairs(a)
	bPairs := pairs(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	bCount := map[string]int{}
	for _, p := range bPairs {
		bCount[p]++
	}
	inter := 0
	for _, p := range aPairs {
		if bCount[p] > 0 {
			inter++
			bCount[p]--
		}
	}

	return float64(2*inter) / float64(len(aPairs)+len(bPairs))
}

// DedupeStrings keeps first-seen order and drops repeats and blanks.
func DedupeStrings(values []string, key func(string) string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := v
		if key != nil {
			k = key(v)
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
