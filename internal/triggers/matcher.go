package triggers

import (
	"regexp"
	"strings"

	"github.com/gregolima/zeca/internal/textutil"
	"github.com/gregolima/zeca/pkg/models"
)

// matches reports whether any phrase of the rule matches the message text.
// A phrase that fails to compile (regex mode) is skipped; it never disables
// the rule or the pipeline.
func matches(t *models.Trigger, text string) bool {
	if text == "" {
		return false
	}

	for _, phrase := range t.Phrases {
		if phrase == "" {
			continue
		}
		if matchPhrase(t, phrase, text) {
			return true
		}
	}
	return false
}

func matchPhrase(t *models.Trigger, phrase, text string) bool {
	switch t.MatchType {
	case models.MatchRegex:
		re, err := compilePattern(phrase, t.CaseSensitive)
		if err != nil {
			return false
		}
		return re.MatchString(text)

	case models.MatchExact:
		if t.WholeWord {
			return matchWholeWord(phrase, text, t.CaseSensitive)
		}
		return textutil.Normalize(text, t.NormalizeAccents, t.CaseSensitive) ==
			textutil.Normalize(phrase, t.NormalizeAccents, t.CaseSensitive)

	case models.MatchContains:
		if t.WholeWord {
			return matchWholeWord(phrase, text, t.CaseSensitive)
		}
		hay := textutil.Normalize(text, t.NormalizeAccents, t.CaseSensitive)
		needle := textutil.Normalize(phrase, t.NormalizeAccents, t.CaseSensitive)
		return strings.Contains(hay, needle)
	}

	return false
}

// matchWholeWord matches the literal phrase bounded by word boundaries, so
// "oi" does not match inside "dormitoio".
func matchWholeWord(phrase, text string, caseSensitive bool) bool {
	re, err := compilePattern(`\b`+regexp.QuoteMeta(phrase)+`\b`, caseSensitive)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

func compilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
