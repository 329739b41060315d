package stocktag

import (
	"strings"
	"testing"
	"unicode"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Red Car", "Red Car"},
		{"Café in São Paulo", "Cafe in Sao Paulo"},
		{"Straße am Fjord, Ærø", "Strasse am Fjord, AEro"},
		{`a\b/c:d*e?f"g<h>i|j`, "abcdefghij"},
		{"  lots   of\tspace\n", "lots of space"},
		{"ends with dots...", "ends with dots"},
		{"emoji 🌅 sunset", "emoji sunset"},
		{"日本の夕日", ""},
		{"ﬁsh ﬂakes", "fish flakes"},
		{"tab\x00null\x7fdel", "tabnulldel"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := Normalize(tc.in)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeSafeAndIdempotent(t *testing.T) {
	inputs := []string{
		"Sunset over the ocean: a \"perfect\" evening?",
		"Ångström über naïve résumé",
		"C:\\Windows\\System32 <script>|pipe",
		"Ünïcödé…  ",
		"   .  ",
		"Łódź Kraków Gdańsk",
		"Œuvre d'art — fin.",
	}

	for _, in := range inputs {
		out := Normalize(in)
		for _, r := range out {
			if r > unicode.MaxASCII || unicode.IsControl(r) {
				t.Errorf("Normalize(%q) = %q contains non-ASCII rune %q", in, out, r)
			}
			if strings.ContainsRune(illegalChars, r) {
				t.Errorf("Normalize(%q) = %q contains illegal rune %q", in, out, r)
			}
		}
		if again := Normalize(out); again != out {
			t.Errorf("Normalize not idempotent: %q -> %q -> %q", in, out, again)
		}
	}
}
