// Package view holds presentation helpers for news lists: number and date
// formatting, pagination controls, and sentiment badges.
package view

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// Ellipsis marks a gap in the slice returned by PageNumbers.
const Ellipsis = 0

// PageNumbers returns the page buttons to show: every page when there are
// at most five, otherwise the first and last pages around a window of the
// current one, with Ellipsis entries for the gaps.
func PageNumbers(page, totalPages int) []int {
	const maxVisible = 5
	if totalPages <= maxVisible {
		pages := make([]int, 0, totalPages)
		for i := 1; i <= totalPages; i++ {
			pages = append(pages, i)
		}
		return pages
	}

	pages := []int{1}
	switch {
	case page <= 3:
		pages = append(pages, 2, 3, 4, Ellipsis, totalPages)
	case page >= totalPages-2:
		pages = append(pages, Ellipsis)
		for i := totalPages - 3; i <= totalPages; i++ {
			pages = append(pages, i)
		}
	default:
		pages = append(pages, Ellipsis, page-1, page, page+1, Ellipsis, totalPages)
	}
	return pages
}

// FormatPageNumbers renders PageNumbers with the current page bracketed.
func FormatPageNumbers(page, totalPages int) string {
	nums := PageNumbers(page, totalPages)
	parts := make([]string, len(nums))
	for i, n := range nums {
		switch {
		case n == Ellipsis:
			parts[i] = "..."
		case n == page:
			parts[i] = fmt.Sprintf("[%d]", n)
		default:
			parts[i] = fmt.Sprintf("%d", n)
		}
	}
	return strings.Join(parts, " ")
}

var ist = loadIST()

// IST returns the India Standard Time location used for display.
func IST() *time.Location { return ist }

func loadIST() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+1800)
}

var receivedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseReceived parses a backend timestamp. Values without a zone are UTC.
func ParseReceived(s string) (time.Time, error) {
	for _, layout := range receivedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatReceived renders a timestamp as "3:04 PM IST, 02-Jan" in India
// time, plus the year separately. Unparseable input is returned as is with
// an empty year.
func FormatReceived(s string) (main, year string) {
	if s == "" {
		return "", ""
	}
	t, err := ParseReceived(s)
	if err != nil {
		return s, ""
	}
	t = t.In(ist)
	return t.Format("3:04 PM") + " IST, " + t.Format("02-Jan"), t.Format("2006")
}

// SentimentBadge returns the label and glyph for a sentiment value.
// Missing or unknown sentiment is neutral.
func SentimentBadge(sentiment string, impact float64) string {
	var glyph, label string
	switch strings.ToLower(sentiment) {
	case "positive":
		glyph, label = "▲", "POSITIVE"
	case "negative":
		glyph, label = "▼", "NEGATIVE"
	default:
		glyph, label = "–", "NEUTRAL"
		if sentiment != "" {
			label = strings.ToUpper(sentiment)
		}
	}
	if impact > 0 {
		return fmt.Sprintf("%s %s %g", glyph, label, impact)
	}
	return glyph + " " + label
}

// AffordanceLabel renders the new-items notice for n unseen ids.
func AffordanceLabel(n int) string {
	if n == 1 {
		return "1 New Update"
	}
	return FormatInt(n) + " New Updates"
}

// NeedsExpansion reports whether text wrapped at width columns takes more
// than maxLines lines.
func NeedsExpansion(text string, width, maxLines int) bool {
	if width <= 0 || maxLines <= 0 {
		return false
	}
	lines := 0
	for _, para := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(para)
		if n == 0 {
			lines++
		} else {
			lines += (n + width - 1) / width
		}
		if lines > maxLines {
			return true
		}
	}
	return false
}

// Truncate shortens s to at most n runes, ending with "…" when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
