package ocr

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Names on the cards are printed in capitals, Turkish letters included.
// Tesseract may emit non-breaking or other Unicode spaces between words.
var nameLineRE = regexp.MustCompile(`^[A-ZÇĞİÖŞÜ\p{Z}\s]+$`)

// Name is the pair of fields read from a card.
type Name struct {
	First string `json:"first_name"`
	Last  string `json:"last_name"`
}

// Empty reports whether nothing was extracted.
func (n Name) Empty() bool {
	return n.First == "" && n.Last == ""
}

// CandidateLines returns the trimmed, non-empty lines of text that consist
// only of capital letters and spaces and are at least minLen runes long.
func CandidateLines(text string, minLen int) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if !nameLineRE.MatchString(l) || utf8.RuneCountInString(l) < minLen {
			continue
		}
		out = append(out, l)
	}
	return out
}

// ExtractName picks first and last name from OCR text. The first candidate
// line supplies the first name (its first word) and the last name (its last
// word, when it has more than one). A second candidate line fills the last
// name when the first line held a single word.
func ExtractName(text string, minLen int) Name {
	return nameFromLines(CandidateLines(text, minLen))
}

func nameFromLines(lines []string) Name {
	var n Name
	if len(lines) >= 1 {
		parts := strings.Fields(lines[0])
		switch {
		case len(parts) >= 2:
			n.First = capitalize(parts[0])
			n.Last = capitalize(parts[len(parts)-1])
		case len(parts) == 1:
			n.First = capitalize(parts[0])
		}
	}
	if len(lines) >= 2 && n.Last == "" {
		parts := strings.Fields(lines[1])
		if len(parts) > 0 {
			n.Last = capitalize(parts[len(parts)-1])
		}
	}
	return n
}

// capitalize upper-cases the first letter and lower-cases the rest using
// Turkish rules, so YILMAZ becomes Yılmaz and İBRAHİM becomes İbrahim.
func capitalize(word string) string {
	return cases.Title(language.Turkish).String(word)
}
