// Package normalize turns raw bibliographic fields into canonical
// comparison keys. These functions are load-bearing for corpus
// uniqueness: every dedup decision and unique index goes through them,
// so they must stay deterministic.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tlawson/papyrus/internal/work"
)

// doiPrefixes are the URL/scheme wrappers stripped before comparison.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// DOI canonicalizes a DOI to its bare lowercase identifier. Returns ""
// when the input does not look like a DOI at all.
func DOI(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			lower = lower[len(p):]
			break
		}
	}
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimRight(s, ".,;:)")
	if !strings.HasPrefix(s, "10.") {
		return ""
	}
	slash := strings.Index(s, "/")
	if slash < 0 || slash >= len(s)-1 {
		return ""
	}
	// Registrant prefix must be numeric (10.NNNN).
	for _, r := range s[3:slash] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}

// stripDiacritics removes combining marks after NFD decomposition, so
// "Müller" and "Muller" compare equal.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases and strips diacritics.
func fold(s string) string {
	out, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Title canonicalizes a title for comparison: lowercase, diacritics
// stripped, punctuation dropped, whitespace collapsed to single spaces.
func Title(raw string) string {
	folded := fold(raw)
	var b strings.Builder
	b.Grow(len(folded))
	space := true // collapse leading whitespace too
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// particles are honorific/nobility name particles ignored when
// comparing surnames, so "von Neumann" matches "Neumann".
var particles = map[string]bool{
	"von": true, "van": true, "de": true, "der": true, "den": true,
	"di": true, "da": true, "del": true, "della": true, "la": true,
	"le": true, "du": true, "dos": true, "das": true, "ter": true,
	"ten": true, "zu": true, "af": true, "av": true, "el": true,
	"al": true, "bin": true, "ibn": true, "st": true,
}

// Surname extracts the particle-stripped comparison key for a family
// name. Multi-word surnames keep their last non-particle word.
func Surname(family string) string {
	words := strings.Fields(fold(family))
	key := ""
	for _, w := range words {
		w = strings.Trim(w, ".,;:-")
		if w == "" || particles[w] {
			continue
		}
		key = w // last non-particle word wins: "van der Berg" -> "berg"
	}
	if key == "" && len(words) > 0 {
		// All words were particles; fall back to the last one rather
		// than an empty key.
		key = strings.Trim(words[len(words)-1], ".,;:-")
	}
	return key
}

// AuthorKey returns the comparison key for a single author.
func AuthorKey(a work.Author) string {
	if key := Surname(a.Family); key != "" {
		return key
	}
	// Some sources put the whole name in one field.
	return Surname(a.Given)
}

// AuthorSetKey returns an order-insensitive key for an author list:
// the sorted, deduplicated surname keys joined by "|". Two works whose
// author lists differ only in ordering or particles share a key.
func AuthorSetKey(authors []work.Author) string {
	if len(authors) == 0 {
		return ""
	}
	keys := make([]string, 0, len(authors))
	seen := make(map[string]bool, len(authors))
	for _, a := range authors {
		k := AuthorKey(a)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	// Insertion sort keeps this dependency-free and stable for the
	// short lists author sets are.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return strings.Join(keys, "|")
}

// AuthorsEqual reports particle-aware equality of two author lists as
// unordered surname sets.
func AuthorsEqual(a, b []work.Author) bool {
	return AuthorSetKey(a) != "" && AuthorSetKey(a) == AuthorSetKey(b)
}

// Similarity returns a normalized Levenshtein ratio in [0, 1] between
// two strings after folding. 1 means identical keys.
func Similarity(a, b string) float64 {
	a, b = fold(a), fold(b)
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	dist := levenshtein([]rune(a), []rune(b))
	max := len([]rune(a))
	if n := len([]rune(b)); n > max {
		max = n
	}
	return 1 - float64(dist)/float64(max)
}

// AuthorListSimilarity compares two author lists as their set keys.
// Returns 0 when either list is empty: absence is not similarity.
func AuthorListSimilarity(a, b []work.Author) float64 {
	ka, kb := AuthorSetKey(a), AuthorSetKey(b)
	if ka == "" || kb == "" {
		return 0
	}
	return Similarity(ka, kb)
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
