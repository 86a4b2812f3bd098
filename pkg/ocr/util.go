package ocr

import "strings"

// snippet returns a shortened version of text for logging.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// ParseLanguages splits a "tur+eng" or "tur,eng" list into Tesseract language codes.
func ParseLanguages(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	if len(parts) == 0 {
		return append([]string(nil), DefaultLanguages...)
	}
	return parts
}
