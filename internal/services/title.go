package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxTitleLength = 100
	untitledQuiz          = "Untitled Quiz"
)

var numericSuffix = regexp.MustCompile(`-\d+$`)

// baseTitle trims requested and falls back to the document title, then to
// a fixed literal, truncated to maxLen runes.
func baseTitle(requested, documentTitle string, maxLen int) string {
	title := strings.TrimSpace(requested)
	if title == "" {
		if doc := strings.TrimSpace(documentTitle); doc != "" {
			title = "Quiz: " + doc
		} else {
			title = untitledQuiz
		}
	}
	return truncateRunes(title, maxLen)
}

func truncateRunes(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxLen]))
}

// suffixBase strips one trailing -<digits> so Demo-2 and Demo share a base.
func suffixBase(title string) string {
	base := numericSuffix.ReplaceAllString(title, "")
	if strings.TrimSpace(base) == "" {
		return title
	}
	return base
}

// suffixed appends -n to base, shortening base so the result fits maxLen.
func suffixed(base string, n, maxLen int) string {
	suffix := "-" + strconv.Itoa(n)
	if maxLen > 0 {
		room := maxLen - utf8.RuneCountInString(suffix)
		if room < 1 {
			room = 1
		}
		r := []rune(base)
		if len(r) > room {
			base = string(r[:room])
		}
	}
	return base + suffix
}

func partTitle(title string, part, maxLen int) string {
	label := " (Part " + strconv.Itoa(part) + ")"
	if maxLen > 0 {
		room := maxLen - utf8.RuneCountInString(label)
		if room < 1 {
			room = 1
		}
		title = truncateRunes(title, room)
	}
	return title + label
}
