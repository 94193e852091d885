// Package summary prepares free-text game descriptions for a fixed-width display column.
package summary

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxLength is the number of characters kept in a short summary before the ellipsis.
	MaxLength = 200
	// MinLineWidth is the narrowest wrap width, used when every sibling string is shorter.
	MinLineWidth = 45
	// LinePadding widens the column past the longest sibling string.
	LinePadding = 5
	// Ellipsis terminates truncated summaries.
	Ellipsis = "..."
)

// Siblings holds the strings displayed next to the summary. The longest one sets the column width.
type Siblings struct {
	Name              string
	InvolvedCompanies string
	Extra             []string
}

// Result is the display-ready summary. ShortSummary is only set when the text was truncated.
type Result struct {
	FullSummary  string `json:"full_summary"`
	ShortSummary string `json:"short_summary,omitempty"`
	Truncated    bool   `json:"truncated"`
}

// LineWidth returns the wrap width derived from the sibling strings.
func LineWidth(siblings Siblings) int {
	longest := utf8.RuneCountInString(siblings.Name)
	if count := utf8.RuneCountInString(siblings.InvolvedCompanies); count > longest {
		longest = count
	}
	for _, extra := range siblings.Extra {
		if count := utf8.RuneCountInString(extra); count > longest {
			longest = count
		}
	}
	if longest < MinLineWidth {
		return MinLineWidth
	}
	return longest + LinePadding
}

// Format wraps text at word boundaries for the column implied by siblings.
// Text longer than MaxLength (counted before normalization) also gets a truncated, ellipsis-terminated short variant.
func Format(text string, siblings Siblings) Result {
	width := LineWidth(siblings)
	breaks := MaxLength / width
	normalized := normalize(text)

	// The threshold applies to the text as received, before leading punctuation is stripped.
	if utf8.RuneCountInString(text) <= MaxLength {
		wrapped := wrap(normalized, width, breaks)
		return Result{FullSummary: strings.TrimRightFunc(string(wrapped), unicode.IsSpace)}
	}

	full := wrap(append([]rune(nil), normalized...), width, len(normalized)/width)

	short := append([]rune(nil), normalized[:min(len(normalized), MaxLength)]...)
	short = trimDangling(short)
	short = append(short, []rune(Ellipsis)...)
	short = wrap(short, width, breaks)

	return Result{
		FullSummary:  strings.TrimRightFunc(string(full), unicode.IsSpace),
		ShortSummary: string(short),
		Truncated:    true,
	}
}

// normalize strips leading non-word characters and turns existing line breaks into spaces
// so that the only breaks in the output are the ones wrap inserts.
func normalize(text string) []rune {
	text = strings.TrimLeftFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, text)
	return []rune(text)
}

// wrap replaces up to maxBreaks spaces with newlines. Each break goes on the first space at or
// after the target column; when there is none it falls back to the last space on the current
// line. A word is never split.
func wrap(text []rune, width, maxBreaks int) []rune {
	offset := 0
	for inserted := 0; inserted < maxBreaks; inserted++ {
		target := offset + width
		if target >= len(text) {
			break
		}
		index := indexSpace(text, target)
		if index < 0 {
			index = lastSpace(text, offset+1, target)
		}
		if index < 0 {
			break
		}
		text[index] = '\n'
		offset = index
	}
	return text
}

func indexSpace(text []rune, from int) int {
	for index := from; index < len(text); index++ {
		if text[index] == ' ' {
			return index
		}
	}
	return -1
}

func lastSpace(text []rune, from, to int) int {
	for index := to - 1; index >= from; index-- {
		if text[index] == ' ' {
			return index
		}
	}
	return -1
}

// trimDangling drops trailing punctuation and whitespace so the ellipsis follows a word.
func trimDangling(text []rune) []rune {
	end := len(text)
	for end > 0 {
		r := text[end-1]
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			break
		}
		end--
	}
	return text[:end]
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
