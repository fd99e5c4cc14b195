package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reThousandsDot   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsComma = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reAmountNoise    = regexp.MustCompile(`[$*\s\x{00A0}]`)
)

// ParseAmount reads a money token such as "$1,500.00", "*****300.00*" or "12,50".
func ParseAmount(token string) *float64 {
	compact := reAmountNoise.ReplaceAllString(token, "")
	compact = strings.TrimSuffix(strings.TrimPrefix(compact, "USD"), "USD")
	if compact == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(normalizeNumericToken(compact), 64)
	if err != nil {
		return nil
	}
	return FloatPtr(parsed)
}

func normalizeNumericToken(compact string) string {
	if reThousandsDot.MatchString(compact) {
		return strings.ReplaceAll(compact, ".", "")
	}
	if reThousandsComma.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	hasComma := strings.Contains(compact, ",")
	hasDot := strings.Contains(compact, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(compact, ".") > strings.LastIndex(compact, ",") {
			return strings.ReplaceAll(compact, ",", "")
		}
		return strings.ReplaceAll(strings.ReplaceAll(compact, ".", ""), ",", ".")
	case hasComma:
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
