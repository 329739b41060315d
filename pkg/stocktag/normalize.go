package stocktag

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// illegalChars are forbidden in filenames on at least one common filesystem.
const illegalChars = `\/:*?"<>|`

// letters that NFKD does not decompose into an ASCII base.
var foldLetters = strings.NewReplacer(
	"ß", "ss", "Æ", "AE", "æ", "ae", "Ø", "O", "ø", "o",
	"Œ", "OE", "œ", "oe", "Ł", "L", "ł", "l", "Đ", "D", "đ", "d",
	"Þ", "TH", "þ", "th", "ı", "i",
)

// Normalize returns a plain-ASCII version of s that is safe to use as a filename.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, foldLetters.Replace(s))
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r >= unicode.MaxASCII, unicode.IsControl(r), strings.ContainsRune(illegalChars, r):
			continue
		default:
			b.WriteRune(r)
		}
	}

	return strings.TrimRight(strings.Join(strings.Fields(b.String()), " "), " .")
}
