package services

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fallbackSlug = "post"

// Slugify lowercases title, folds accents to their base letters and joins
// the remaining ASCII letter and digit runs with single hyphens.
func Slugify(title string) string {
	// Chained transformers keep state and cannot be shared across goroutines.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

// postSlug appends the creation time in unix milliseconds to the title slug.
func postSlug(title string, at time.Time) string {
	return Slugify(title) + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}
