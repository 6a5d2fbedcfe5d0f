package classification

import (
	"html"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	stripPolicy     *bluemonday.Policy
	stripPolicyOnce sync.Once

	duplicateSuffix = regexp.MustCompile(`_[0-9]+$`)
	nonAlnumRun     = regexp.MustCompile(`[^a-z0-9]+`)
)

// letters NFD cannot decompose into base + mark.
var foldMap = map[rune]string{
	'ł': "l", 'Ł': "L",
	'ß': "ss", 'ẞ': "SS",
	'æ': "ae", 'Æ': "AE",
	'ø': "o", 'Ø': "O",
	'œ': "oe", 'Œ': "OE",
	'đ': "d", 'Đ': "D",
	'ð': "d", 'Ð': "D",
	'þ': "th", 'Þ': "TH",
	'ħ': "h", 'Ħ': "H",
	'ı': "i",
	'ŀ': "l", 'Ŀ': "L",
	'ŧ': "t", 'Ŧ': "T",
}

func markupPolicy() *bluemonday.Policy {
	stripPolicyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return stripPolicy
}

// StripMarkup removes tags and decodes entities.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	return html.UnescapeString(markupPolicy().Sanitize(s))
}

// FoldAccents maps accented Latin letters to their ASCII base.
func FoldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if rep, ok := foldMap[r]; ok {
			b.WriteString(rep)
			continue
		}
		b.WriteRune(r)
	}
	// Transformers keep state, so the chain is built per call.
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(chain, b.String())
	if err != nil {
		return b.String()
	}
	return out
}

func normalizeOnce(s string) string {
	s = StripMarkup(s)
	s = FoldAccents(s)
	s = strings.ToLower(s)
	s = duplicateSuffix.ReplaceAllString(s, "")
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.TrimSpace(s)
}

// NormalizeForMatching prepares a label or key for keyword matching: markup
// stripped, accents folded, lowercased, a trailing _<digits> removed,
// underscores and dashes turned into spaces, trimmed. Rounds repeat until the
// output stops changing, each one peeling a level of entity or markup nesting,
// so the result is idempotent.
func NormalizeForMatching(s string) string {
	cur := s
	for {
		next := normalizeOnce(cur)
		if next == cur {
			return cur
		}
		cur = next
	}
}

// Slugify builds a lowercase identifier from s, joining alphanumeric runs with "_".
func Slugify(s string) string {
	s = strings.ToLower(FoldAccents(StripMarkup(s)))
	return strings.Trim(nonAlnumRun.ReplaceAllString(s, "_"), "_")
}

// CountWords counts runs of letters; apostrophes inside a word do not split it.
func CountWords(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if !inWord {
				count++
				inWord = true
			}
		case r == '\'' && inWord:
		default:
			inWord = false
		}
	}
	return count
}
